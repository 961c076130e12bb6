package data_portal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"golang.org/x/time/rate"
)

// A Transfer is one cancellable streamed save of remote bytes to a local file,
// reporting byte counts as it goes. It is the single-item building block the
// batch download manager schedules.
type Transfer interface {
	// AddReceivedBytes increases how many bytes have been received so far.
	AddReceivedBytes(n int)

	// AddExpectedBytes increases how many bytes are expected in total.
	AddExpectedBytes(n int)

	// Cancel stops any in-progress I/O for this transfer.
	Cancel()

	// Context is the cancellable context of this transfer.
	Context() context.Context

	// CreateFile opens the target file, creating parent directories as needed.
	CreateFile(filename string) (io.WriteCloser, error)

	// Progress returns the received and expected byte counts.
	Progress() (received int, expected int)

	// SaveStream copies the stream to the named file, calling AddReceivedBytes
	// as bytes arrive. Cancelling the context interrupts the copy.
	SaveStream(filename string, stream io.Reader) error

	// Write discards the data but counts it via AddReceivedBytes, so a Transfer
	// can sit in an io.MultiWriter to track progress (keep it the last writer so
	// failed writes aren't counted).
	Write(p []byte) (n int, err error)
}

type transfer struct {
	ctx              context.Context
	cancel           context.CancelFunc
	progressCallback func(received int, expected int)
	targetDir        string
	limiter          *rate.Limiter
	expectedBytes    int
	receivedBytes    int
}

func (t *transfer) AddReceivedBytes(n int) {
	t.receivedBytes += n
	if t.progressCallback != nil {
		t.progressCallback(t.Progress())
	}
}

func (t *transfer) AddExpectedBytes(n int) {
	t.expectedBytes += n
	if t.progressCallback != nil {
		t.progressCallback(t.Progress())
	}
}

func (t *transfer) Cancel() {
	t.cancel()
}

func (t *transfer) Context() context.Context {
	return t.ctx
}

func (t *transfer) CreateFile(filename string) (io.WriteCloser, error) {
	targetPath := path.Join(t.targetDir, filename)
	if err := os.MkdirAll(path.Dir(targetPath), 0775); err != nil {
		return nil, err
	}
	return os.Create(targetPath)
}

func (t *transfer) Progress() (int, int) {
	return t.receivedBytes, t.expectedBytes
}

func (t *transfer) SaveStream(filename string, stream io.Reader) error {
	f, err := t.CreateFile(filename)
	if err != nil {
		return fmt.Errorf("failed to open target file: %w", err)
	}
	defer f.Close()

	var r io.Reader = &readerContext{ctx: t.ctx, r: stream}
	if t.limiter != nil {
		r = &limitedReader{ctx: t.ctx, r: r, limiter: t.limiter}
	}
	if _, err := io.Copy(io.MultiWriter(f, t), r); err != nil {
		return fmt.Errorf("failed to save stream: %w", err)
	}
	return nil
}

func (t *transfer) Write(p []byte) (n int, err error) {
	n = len(p)
	t.AddReceivedBytes(n)
	return n, nil
}

type TransferBuilder interface {
	Build() Transfer
	WithContext(ctx context.Context) TransferBuilder
	WithProgressCallback(f func(received int, expected int)) TransferBuilder
	WithTargetDir(dir string) TransferBuilder
	// WithRateLimit caps the transfer at bytesPerSecond; <= 0 means unlimited.
	WithRateLimit(bytesPerSecond int64) TransferBuilder
}

type transferBuilder struct {
	ctx              context.Context
	progressCallback func(int, int)
	targetDir        string
	limiter          *rate.Limiter
}

func NewTransferBuilder() TransferBuilder {
	return &transferBuilder{
		ctx:       context.Background(),
		targetDir: ".",
	}
}

func (b *transferBuilder) Build() Transfer {
	t := transfer{}
	t.ctx, t.cancel = context.WithCancel(b.ctx)
	t.progressCallback = b.progressCallback
	t.targetDir = b.targetDir
	t.limiter = b.limiter
	return &t
}

func (b *transferBuilder) WithContext(ctx context.Context) TransferBuilder {
	b.ctx = ctx
	return b
}

func (b *transferBuilder) WithProgressCallback(f func(int, int)) TransferBuilder {
	b.progressCallback = f
	return b
}

func (b *transferBuilder) WithTargetDir(dir string) TransferBuilder {
	b.targetDir = dir
	return b
}

func (b *transferBuilder) WithRateLimit(bytesPerSecond int64) TransferBuilder {
	if bytesPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
	} else {
		b.limiter = nil
	}
	return b
}
