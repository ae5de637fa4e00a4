package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/example/chatroom-coordinator/domain/chat"
	"golang.org/x/sync/semaphore"
)

// Media errors
var (
	ErrNotFound        = errors.New("media item not found")
	ErrInvalidOwner    = errors.New("invalid media owner")
	ErrUnsupportedType = errors.New("the file selected for upload is not an image or video")
	ErrEmptyUpload     = errors.New("the file selected for upload is empty")
	ErrStoreClosed     = errors.New("media store is closed")
)

// KindForContentType classifies an upload by its MIME type.
func KindForContentType(contentType string) (chat.MediaKind, error) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return chat.MediaImage, nil
	case strings.HasPrefix(contentType, "video/"):
		return chat.MediaVideo, nil
	default:
		return chat.MediaText, ErrUnsupportedType
	}
}

// VideoDone is called once an asynchronous video write has finished.
type VideoDone func(itemNumber int64, err error)

// Store keeps uploaded media on the local filesystem as
// {root}/{images|videos}/{username}/{n}/{filename}. Item numbers are
// allocated per user and kind, starting at 1.
type Store struct {
	root string

	mu      sync.Mutex // guards item number allocation
	workers *semaphore.Weighted
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewStore creates a store rooted at root running at most videoWorkers video
// writes at once.
func NewStore(root string, videoWorkers int) *Store {
	if videoWorkers < 1 {
		videoWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		root:    root,
		workers: semaphore.NewWeighted(int64(videoWorkers)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Root returns the media root directory.
func (s *Store) Root() string {
	return s.root
}

// SaveImage writes an image and returns its item number.
func (s *Store) SaveImage(username, filename string, src io.Reader) (int64, error) {
	dir, n, err := s.reserve(chat.MediaImage, username)
	if err != nil {
		return 0, err
	}
	if err := writeFile(filepath.Join(dir, cleanFilename(filename)), src); err != nil {
		os.RemoveAll(dir)
		return 0, err
	}
	log.Printf("[media] Saved image %d for %s", n, username)
	return n, nil
}

// SaveVideo reserves an item number and writes the video in the background.
// The item number is returned immediately; done is called when the write
// has finished. src is closed by the store.
func (s *Store) SaveVideo(username, filename string, src io.ReadCloser, done VideoDone) (int64, error) {
	if s.ctx.Err() != nil {
		src.Close()
		return 0, ErrStoreClosed
	}
	dir, n, err := s.reserve(chat.MediaVideo, username)
	if err != nil {
		src.Close()
		return 0, err
	}
	path := filepath.Join(dir, cleanFilename(filename))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer src.Close()

		err := s.workers.Acquire(s.ctx, 1)
		if err == nil {
			log.Printf("[media] Beginning the video upload %d for %s", n, username)
			err = writeFile(path, src)
			s.workers.Release(1)
		}
		if err != nil {
			log.Printf("[media] Video upload %d for %s failed: %v", n, username, err)
			os.RemoveAll(dir)
		} else {
			log.Printf("[media] Video upload complete: %s", path)
		}
		if done != nil {
			done(n, err)
		}
	}()

	return n, nil
}

// Retrieve returns the path of the stored item.
func (s *Store) Retrieve(kind chat.MediaKind, username string, itemNumber int64) (string, error) {
	if err := checkOwner(username); err != nil {
		return "", err
	}
	base, err := s.kindDir(kind)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, username, strconv.FormatInt(itemNumber, 10))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read media directory: %w", err)
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", ErrNotFound
}

// Close stops accepting videos and waits for in-flight writes until ctx
// expires. Writes still queued for a worker are abandoned.
func (s *Store) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// reserve creates the next numbered directory for username.
func (s *Store) reserve(kind chat.MediaKind, username string) (string, int64, error) {
	if err := checkOwner(username); err != nil {
		return "", 0, err
	}
	base, err := s.kindDir(kind)
	if err != nil {
		return "", 0, err
	}
	userDir := filepath.Join(base, username)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create media directory: %w", err)
	}
	n, err := highestItem(userDir)
	if err != nil {
		return "", 0, err
	}
	n++
	dir := filepath.Join(userDir, strconv.FormatInt(n, 10))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create media item directory: %w", err)
	}
	return dir, n, nil
}

func (s *Store) kindDir(kind chat.MediaKind) (string, error) {
	switch kind {
	case chat.MediaImage:
		return filepath.Join(s.root, "images"), nil
	case chat.MediaVideo:
		return filepath.Join(s.root, "videos"), nil
	default:
		return "", ErrUnsupportedType
	}
}

// highestItem returns the largest numbered directory in dir, or 0.
func highestItem(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read media directory: %w", err)
	}
	var highest int64
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		n, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			log.Printf("[media] Skipping non-numeric item folder %s in %s", entry.Name(), dir)
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest, nil
}

func writeFile(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create media file: %w", err)
	}
	written, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write media file: %w", err)
	}
	if written == 0 {
		return ErrEmptyUpload
	}
	return nil
}

func checkOwner(username string) error {
	if username == "" || username == "." || username == ".." || strings.ContainsAny(username, `/\`) {
		return ErrInvalidOwner
	}
	return nil
}

func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "upload"
	}
	return name
}
