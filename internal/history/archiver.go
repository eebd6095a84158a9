package history

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic/encoder"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/n0needt0/goodies/switchyard/internal/config"
	"github.com/n0needt0/goodies/switchyard/internal/domain"
	"github.com/n0needt0/goodies/switchyard/internal/services"
)

// sessionSchema matches the json field names of domain.SessionRecord.
// Records are flat by construction, so the schema never changes shape.
const sessionSchema = `{"Tag":"name=parquet-go-root","Fields":[` +
	`{"Tag":"name=time, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN, repetitiontype=OPTIONAL"},` +
	`{"Tag":"name=frontend, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN, repetitiontype=OPTIONAL"},` +
	`{"Tag":"name=mode, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN, repetitiontype=OPTIONAL"},` +
	`{"Tag":"name=client, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN, repetitiontype=OPTIONAL"},` +
	`{"Tag":"name=backend, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN, repetitiontype=OPTIONAL"},` +
	`{"Tag":"name=host, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN, repetitiontype=OPTIONAL"},` +
	`{"Tag":"name=bytes_sent, type=INT64, repetitiontype=OPTIONAL"},` +
	`{"Tag":"name=bytes_received, type=INT64, repetitiontype=OPTIONAL"},` +
	`{"Tag":"name=duration_ms, type=INT64, repetitiontype=OPTIONAL"},` +
	`{"Tag":"name=status, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN, repetitiontype=OPTIONAL"}` +
	`]}`

type batchTask struct {
	dataFile  string
	timestamp string
}

// Archiver drains finished-session records into NDJSON batches, converts
// them to parquet, and ships them to S3. Upload failures keep the files
// on disk for a later run.
type Archiver struct {
	Services *services.Services
	Config   *config.Config

	s3Client *minio.Client
	quit     chan bool
	wg       sync.WaitGroup
	taskC    chan batchTask

	file      *os.File
	filePath  string
	timestamp string
	rows      int
}

func NewArchiver(svc *services.Services, conf *config.Config) *Archiver {
	return &Archiver{
		Services: svc,
		Config:   conf,
		quit:     make(chan bool),
		taskC:    make(chan batchTask, 16),
	}
}

func (a *Archiver) Start() error {
	if err := os.MkdirAll(a.Config.History.Directory, 0o755); err != nil {
		return errors.Wrap(err, "creating history directory")
	}

	if a.Config.History.S3Upload {
		s3Client, err := minio.New(a.Config.S3.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(a.Config.S3.AccessKey, a.Config.S3.SecretKey, ""),
			Secure: a.Config.S3.Ssl,
		})
		if err != nil {
			return errors.Wrap(err, "creating S3 client")
		}
		a.s3Client = s3Client
	}

	a.wg.Add(1)
	go a.writeLoop()

	a.wg.Add(1)
	go a.processLoop()

	log.Infof("history archiver writing to %s (batch %d rows, flush %ds)",
		a.Config.History.Directory, a.Config.History.BatchRows, a.Config.History.FlushSeconds)
	return nil
}

func (a *Archiver) Shutdown() error {
	log.Info("History archiver shutting down")
	close(a.quit)
	a.wg.Wait()
	return nil
}

// writeLoop owns the current batch file. Rotation happens on row count,
// on the flush ticker, and once more on shutdown.
func (a *Archiver) writeLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(time.Duration(a.Config.History.FlushSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case rec := <-a.Services.RecordC:
			a.append(rec)
		case <-ticker.C:
			a.rotate()
		case <-a.quit:
			a.rotate()
			close(a.taskC)
			return
		}
	}
}

func (a *Archiver) append(rec domain.SessionRecord) {
	if a.file == nil {
		a.timestamp = fmt.Sprintf("%d", time.Now().UnixNano())
		path := filepath.Join(a.Config.History.Directory, fmt.Sprintf("switchyard-%s.sessions.ndjson", a.timestamp))
		f, err := os.Create(path)
		if err != nil {
			log.Errorf("Failed to create history batch file: %v", err)
			return
		}
		a.file = f
		a.filePath = path
		a.rows = 0
	}

	line, err := encoder.Encode(&rec, encoder.SortMapKeys)
	if err != nil {
		log.Errorf("Encoding session record failed: %v", err)
		return
	}
	if _, err := a.file.Write(append(line, '\n')); err != nil {
		log.Errorf("Failed to write history batch file: %v", err)
		a.rotate()
		return
	}

	a.rows++
	if a.Config.History.BatchRows > 0 && a.rows >= a.Config.History.BatchRows {
		a.rotate()
	}
}

func (a *Archiver) rotate() {
	if a.file == nil {
		return
	}
	a.file.Close()
	if a.rows > 0 {
		a.taskC <- batchTask{dataFile: a.filePath, timestamp: a.timestamp}
	} else {
		_ = os.Remove(a.filePath)
	}
	a.file = nil
	a.filePath = ""
	a.rows = 0
}

func (a *Archiver) processLoop() {
	defer a.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Recovered from panic in archiver goroutine: %v", r)
		}
	}()

	for task := range a.taskC {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Recovered from panic while handling batch %s: %v", task.dataFile, r)
				}
			}()
			a.process(task)
		}()
	}
}

// process converts one closed batch and ships it. The source file goes
// away only when everything that consumes it has succeeded.
func (a *Archiver) process(task batchTask) {
	ok := true

	if a.Config.History.Parquet {
		outPath, err := a.toParquet(task.dataFile)
		if err != nil {
			log.Errorf("Parquet conversion failed for %s: %v", task.dataFile, err)
			ok = false
		} else if a.Config.History.S3Upload {
			key := a.objectKey("parquet", task.timestamp, ".parquet")
			if err := a.upload(outPath, key, "application/octet-stream", false); err != nil {
				log.Errorf("Failed to upload %s: %v", outPath, err)
				a.Services.Alerts.SendUploadFailureAlert(outPath, err)
				ok = false
			} else {
				_ = os.Remove(outPath)
			}
		}
	} else if a.Config.History.S3Upload {
		key := a.objectKey("json", task.timestamp, ".ndjson")
		if err := a.upload(task.dataFile, key, "application/x-ndjson", a.Config.S3.Compression); err != nil {
			log.Errorf("Failed to upload %s: %v", task.dataFile, err)
			a.Services.Alerts.SendUploadFailureAlert(task.dataFile, err)
			ok = false
		}
	}

	if ok && !a.Config.History.KeepSource {
		if err := os.Remove(task.dataFile); err != nil {
			log.Warnf("Failed to remove source file %s: %v", task.dataFile, err)
		}
	}

	a.Cleanup()
}

// toParquet streams the NDJSON batch through the fixed session schema.
func (a *Archiver) toParquet(dataFile string) (string, error) {
	outPath := dataFile + ".parquet"
	fw, err := local.NewLocalFileWriter(outPath)
	if err != nil {
		return "", errors.Wrap(err, "creating parquet file")
	}
	defer fw.Close()

	pw, err := writer.NewJSONWriter(sessionSchema, fw, 4)
	if err != nil {
		return "", errors.Wrap(err, "creating parquet writer")
	}
	pw.CompressionType = parquet.CompressionCodec_GZIP

	src, err := os.Open(dataFile)
	if err != nil {
		return "", errors.Wrap(err, "opening batch file")
	}
	defer src.Close()

	scanner := bufio.NewScanner(src)
	rowCount := 0
	for scanner.Scan() {
		if err := pw.Write(scanner.Text()); err != nil {
			log.Errorf("Error writing record to Parquet: %v", err)
			continue
		}
		rowCount++
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "reading batch file")
	}

	if err := pw.WriteStop(); err != nil {
		return "", errors.Wrap(err, "finalizing parquet file")
	}
	log.Debugf("Wrote %d rows to %s", rowCount, outPath)
	return outPath, nil
}

func (a *Archiver) objectKey(kind, timestamp, ext string) string {
	return fmt.Sprintf("%s/%s/%s/%s%s", a.Config.App.Name, time.Now().Format("2006-01-02"), kind, timestamp, ext)
}

func (a *Archiver) upload(filePath, objectKey, contentType string, compress bool) error {
	file, err := os.Open(filePath)
	if err != nil {
		return errors.Wrap(err, "opening file for upload")
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return errors.Wrap(err, "stat file")
	}

	var reader io.Reader = file
	size := fileInfo.Size()

	if compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, err = io.Copy(gz, file)
		gz.Close()
		if err != nil {
			return errors.Wrap(err, "gzip file")
		}
		reader = bytes.NewReader(buf.Bytes())
		size = int64(buf.Len())
		objectKey += ".gz"
		contentType = "application/gzip"
	}

	_, err = a.s3Client.PutObject(context.Background(), a.Config.S3.BucketName, objectKey, reader, size,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return err
	}
	log.Infof("Uploaded %s to S3 successfully", objectKey)
	return nil
}

// Cleanup trims the history directory down to max_files, oldest first.
// Batch names embed a nanosecond timestamp so name order is age order.
func (a *Archiver) Cleanup() {
	max := a.Config.History.MaxFiles
	if max <= 0 {
		return
	}

	matches, err := filepath.Glob(filepath.Join(a.Config.History.Directory, "switchyard-*"))
	if err != nil || len(matches) <= max {
		return
	}
	sort.Strings(matches)

	for _, path := range matches[:len(matches)-max] {
		if err := os.Remove(path); err != nil {
			log.Warnf("Failed to remove old history file %s: %v", path, err)
		} else {
			log.Debugf("Removed old history file %s", path)
		}
	}
}
