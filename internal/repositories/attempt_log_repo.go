package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/BradenHooton/honeypot/internal/models"
)

// AttemptLogConfig holds configuration for the attempt log
type AttemptLogConfig struct {
	Path            string
	RotationSize    int64         // rotate once the file is larger than this many bytes
	MaxFiles        int           // rotated files to keep; 0 keeps all
	RetryDelay      time.Duration // first backoff after a failed flush
	MaxRetryDelay   time.Duration
	FilePermissions os.FileMode
}

// logFile is the subset of *os.File the flush path uses
type logFile interface {
	Write(p []byte) (int, error)
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Close() error
}

// pendingEntry is a serialized record waiting for its batch to be written
type pendingEntry struct {
	seq  uint64
	line []byte
	done chan error
}

// attemptLine is the on-disk shape of one record: the record fields plus the
// submission sequence number
type attemptLine struct {
	Seq uint64 `json:"seq"`
	*models.AttemptRecord
}

// rotatedSuffix matches "<UTC timestamp>[.<n>]" appended to rotated files
var rotatedSuffix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z(\.\d+)?$`)

// AttemptLogRepository is an append-only JSON lines log of captured attempts.
// Records are written in submission order by at most one flush goroutine.
type AttemptLogRepository struct {
	config AttemptLogConfig
	logger *slog.Logger

	mu       sync.Mutex
	queue    []*pendingEntry
	flushing bool
	closed   bool
	seq      uint64

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	openFile   func(name string, flag int, perm os.FileMode) (logFile, error)
	renameFile func(oldpath, newpath string) error
	nowFn      func() time.Time
}

// NewAttemptLogRepository creates the log file (and its directory) if needed
func NewAttemptLogRepository(config AttemptLogConfig, logger *slog.Logger) (*AttemptLogRepository, error) {
	if config.RetryDelay <= 0 {
		config.RetryDelay = 500 * time.Millisecond
	}
	if config.MaxRetryDelay < config.RetryDelay {
		config.MaxRetryDelay = 30 * time.Second
	}
	if config.FilePermissions == 0 {
		config.FilePermissions = 0o640
	}

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create attempt log directory: %w", err)
		}
	}
	f, err := os.OpenFile(config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, config.FilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to open attempt log: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close attempt log: %w", err)
	}

	return &AttemptLogRepository{
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
		openFile: func(name string, flag int, perm os.FileMode) (logFile, error) {
			return os.OpenFile(name, flag, perm)
		},
		renameFile: os.Rename,
		nowFn:      time.Now,
	}, nil
}

// Append queues record and waits until the batch containing it is written.
// If ctx ends first the record stays queued and ctx's error is returned.
func (r *AttemptLogRepository) Append(ctx context.Context, record *models.AttemptRecord) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return models.ErrLogClosed
	}

	r.seq++
	line, err := json.Marshal(attemptLine{Seq: r.seq, AttemptRecord: record})
	if err != nil {
		r.seq--
		r.mu.Unlock()
		return fmt.Errorf("failed to encode attempt record: %w", err)
	}
	entry := &pendingEntry{
		seq:  r.seq,
		line: append(line, '\n'),
		done: make(chan error, 1),
	}
	r.queue = append(r.queue, entry)
	if !r.flushing {
		r.flushing = true
		r.wg.Add(1)
		go r.flushLoop()
	}
	r.mu.Unlock()

	select {
	case err := <-entry.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting records and waits for the queue to drain. If ctx
// ends first, every unwritten record is failed with ErrLogClosed.
func (r *AttemptLogRepository) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	var waitErr error
	select {
	case <-drained:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	r.closeOnce.Do(func() { close(r.stopCh) })
	<-drained

	r.mu.Lock()
	remaining := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, e := range remaining {
		e.done <- models.ErrLogClosed
	}
	if len(remaining) > 0 {
		r.logger.Error("attempt log closed with unwritten records",
			slog.Int("unwritten", len(remaining)),
			slog.Uint64("first_seq", remaining[0].seq),
			slog.Uint64("last_seq", remaining[len(remaining)-1].seq))
		return fmt.Errorf("%d attempt records not written: %w", len(remaining), models.ErrLogClosed)
	}
	if waitErr != nil {
		return fmt.Errorf("attempt log close: %w", waitErr)
	}
	return nil
}

// Pending returns the number of queued, unwritten records
func (r *AttemptLogRepository) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *AttemptLogRepository) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.RetryDelay
	b.MaxInterval = r.config.MaxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// flushLoop drains the queue until it is empty. A failed batch goes back to
// the front of the queue and is retried after a backoff.
func (r *AttemptLogRepository) flushLoop() {
	defer r.wg.Done()

	var retry *backoff.ExponentialBackOff
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.flushing = false
			r.mu.Unlock()
			return
		}
		batch := r.queue
		r.queue = nil
		r.mu.Unlock()

		err := r.flush(batch)
		if err == nil {
			retry = nil
			for _, e := range batch {
				e.done <- nil
			}
			continue
		}

		r.mu.Lock()
		r.queue = append(batch, r.queue...)
		queued := len(r.queue)
		r.mu.Unlock()

		if retry == nil {
			retry = r.newBackOff()
		}
		delay := retry.NextBackOff()
		r.logger.Error("attempt log flush failed, will retry",
			slog.String("path", r.config.Path),
			slog.Int("batch_size", len(batch)),
			slog.Int("queued", queued),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-r.stopCh:
			timer.Stop()
			r.mu.Lock()
			r.flushing = false
			r.mu.Unlock()
			return
		}
	}
}

// flush writes one batch with a single append, rotating first if needed
func (r *AttemptLogRepository) flush(batch []*pendingEntry) error {
	if err := r.rotateIfNeeded(); err != nil {
		return fmt.Errorf("rotate: %w", err)
	}

	f, err := r.openFile(r.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, r.config.FilePermissions)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	offset := info.Size()

	var buf bytes.Buffer
	for _, e := range batch {
		buf.Write(e.line)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		// Drop any partial write so the retried batch is not duplicated
		if terr := f.Truncate(offset); terr != nil {
			r.logger.Error("failed to truncate partial attempt log write",
				slog.String("path", r.config.Path),
				slog.String("error", terr.Error()))
		}
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (r *AttemptLogRepository) rotateIfNeeded() error {
	info, err := os.Stat(r.config.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() <= r.config.RotationSize {
		return nil
	}

	rotated := r.rotatedName()
	if err := r.renameFile(r.config.Path, rotated); err != nil {
		return err
	}
	f, err := r.openFile(r.config.Path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, r.config.FilePermissions)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	r.logger.Info("attempt log rotated",
		slog.String("path", r.config.Path),
		slog.String("rotated_to", rotated),
		slog.Int64("size", info.Size()))

	r.pruneRotated()
	return nil
}

// rotatedName returns "<path>.<UTC timestamp>" with ':' and '.' replaced by
// '-', adding a numeric suffix if that name is taken
func (r *AttemptLogRepository) rotatedName() string {
	stamp := r.nowFn().UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	base := r.config.Path + "." + stamp

	name := base
	for i := 1; ; i++ {
		if _, err := os.Lstat(name); errors.Is(err, os.ErrNotExist) {
			return name
		}
		name = fmt.Sprintf("%s.%d", base, i)
	}
}

// RotatedFiles lists rotated log files, oldest first
func (r *AttemptLogRepository) RotatedFiles() ([]string, error) {
	dir := filepath.Dir(r.config.Path)
	prefix := filepath.Base(r.config.Path) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type rotatedFile struct {
		path  string
		stamp string
		n     int
	}
	var files []rotatedFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		suffix := strings.TrimPrefix(name, prefix)
		if !rotatedSuffix.MatchString(suffix) {
			continue
		}
		stamp, n := suffix, 0
		if i := strings.IndexByte(suffix, '.'); i >= 0 {
			stamp = suffix[:i]
			n, _ = strconv.Atoi(suffix[i+1:])
		}
		files = append(files, rotatedFile{path: filepath.Join(dir, name), stamp: stamp, n: n})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].stamp != files[j].stamp {
			return files[i].stamp < files[j].stamp
		}
		return files[i].n < files[j].n
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// pruneRotated removes the oldest rotated files beyond MaxFiles. Failures are
// logged and never block writing.
func (r *AttemptLogRepository) pruneRotated() {
	if r.config.MaxFiles <= 0 {
		return
	}

	files, err := r.RotatedFiles()
	if err != nil {
		r.logger.Warn("failed to list rotated attempt logs", slog.String("error", err.Error()))
		return
	}
	if len(files) <= r.config.MaxFiles {
		return
	}

	for _, path := range files[:len(files)-r.config.MaxFiles] {
		if err := os.Remove(path); err != nil {
			r.logger.Warn("failed to remove rotated attempt log",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		r.logger.Info("removed rotated attempt log", slog.String("path", path))
	}
}
