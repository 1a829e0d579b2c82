package sink

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/zhengshuai-xiao/blkimg/internal"
)

const s3Scheme = "s3://"

// DefaultPartSize bounds the memory a streamed upload buffers per part.
const DefaultPartSize = 64 << 20

type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PartSize  uint64
	// Metadata is attached to the uploaded stream object.
	Metadata map[string]string
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(target string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(target, s3Scheme)
	if rest == target {
		return "", "", fmt.Errorf("%w: %q is not an s3:// url", internal.ErrInvalidConfig, target)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%w: %q needs a bucket and an object key", internal.ErrInvalidConfig, target)
	}
	return bucket, key, nil
}

func newS3Client(opts *S3Options) (*miniogo.Client, error) {
	if opts == nil || opts.Endpoint == "" {
		return nil, fmt.Errorf("%w: s3 output needs an endpoint", internal.ErrInvalidConfig)
	}
	return miniogo.New(opts.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
}

func ensureBucket(ctx context.Context, client *miniogo.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	logger.Infof("Bucket %s created successfully", bucket)
	return nil
}

// S3Sink streams into a multipart upload of unknown size through a pipe.
type S3Sink struct {
	target string
	buf    *bufio.Writer
	pw     *io.PipeWriter
	done   chan error
	info   miniogo.UploadInfo
}

func NewS3(ctx context.Context, target string, opts *S3Options) (*S3Sink, error) {
	bucket, key, err := ParseS3URL(target)
	if err != nil {
		return nil, err
	}
	client, err := newS3Client(opts)
	if err != nil {
		return nil, fmt.Errorf("client initialization failed: %w", err)
	}
	if err := ensureBucket(ctx, client, bucket); err != nil {
		return nil, err
	}

	partSize := opts.PartSize
	if partSize == 0 {
		partSize = DefaultPartSize
	}
	pr, pw := io.Pipe()
	s := &S3Sink{
		target: target,
		buf:    bufio.NewWriterSize(pw, bufferSize),
		pw:     pw,
		done:   make(chan error, 1),
	}
	go func() {
		info, err := client.PutObject(ctx, bucket, key, pr, -1, miniogo.PutObjectOptions{
			ContentType:  "application/octet-stream",
			PartSize:     partSize,
			UserMetadata: opts.Metadata,
		})
		// unblock the writer if the upload stopped reading
		pr.CloseWithError(err)
		s.info = info
		s.done <- err
	}()
	logger.Infof("streaming to %s via %s (part size %s)", target, opts.Endpoint, internal.FormatBytes(partSize))
	return s, nil
}

func (s *S3Sink) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

func (s *S3Sink) Flush() error {
	return s.buf.Flush()
}

// Close ends the stream and waits for the upload to complete.
func (s *S3Sink) Close() error {
	if err := s.buf.Flush(); err != nil {
		s.pw.CloseWithError(err)
		<-s.done
		return internal.NewIoError("upload", s.target, err)
	}
	s.pw.Close()
	if err := <-s.done; err != nil {
		return internal.NewIoError("upload", s.target, err)
	}
	logger.Infof("uploaded %s (%s)", s.target, internal.FormatBytes(uint64(s.info.Size)))
	return nil
}

// Abort fails the upload so no partial object is committed.
func (s *S3Sink) Abort(cause error) {
	s.pw.CloseWithError(cause)
	<-s.done
}

func (s *S3Sink) Location() string {
	return s.target
}

func calculateHashes(data []byte) (md5Base64 string, sha256Hex string) {
	md5Sum := md5.Sum(data)
	sha256Sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(md5Sum[:]), hex.EncodeToString(sha256Sum[:])
}

// uploadBytes puts a small object in one request with content checksums.
func uploadBytes(ctx context.Context, target string, data []byte, opts *S3Options) error {
	bucket, key, err := ParseS3URL(target)
	if err != nil {
		return err
	}
	client, err := newS3Client(opts)
	if err != nil {
		return fmt.Errorf("client initialization failed: %w", err)
	}
	if err := ensureBucket(ctx, client, bucket); err != nil {
		return err
	}
	core := &miniogo.Core{Client: client}
	md5Base64, sha256Hex := calculateHashes(data)
	_, err = core.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), md5Base64, sha256Hex,
		miniogo.PutObjectOptions{ContentType: "application/yaml"})
	if err != nil {
		return internal.NewIoError("upload", target, err)
	}
	return nil
}
