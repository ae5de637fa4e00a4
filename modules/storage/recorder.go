package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// recordHeader is the first line of every daily chat record.
var recordHeader = []string{
	"room name", "room creator", "username", "first name",
	"last name", "user role", "message", "time written",
}

// DailyRecorder writes one CSV file per day with every message written by
// registered users during that day.
type DailyRecorder struct {
	rooms *RoomRepository
	dir   string
	now   func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDailyRecorder creates a recorder writing into dir.
func NewDailyRecorder(rooms *RoomRepository, dir string) *DailyRecorder {
	return &DailyRecorder{
		rooms: rooms,
		dir:   dir,
		now:   time.Now,
	}
}

// RecordFileName returns the file name used for the record of day.
func RecordFileName(day time.Time) string {
	return "chat-records-" + day.Format("2006-01-02") + ".csv"
}

// WriteRecord writes the record of the 24 hours starting at the local
// midnight of day and returns the file path.
func (r *DailyRecorder) WriteRecord(ctx context.Context, day time.Time) (string, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)

	rows, err := r.rooms.RecordRows(ctx, from, to)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create records directory: %w", err)
	}
	path := filepath.Join(r.dir, RecordFileName(from))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create record file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(recordHeader); err != nil {
		return "", fmt.Errorf("failed to write record header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.RoomName,
			row.RoomCreator,
			row.Username,
			row.FirstName,
			row.LastName,
			row.UserRole,
			row.Message,
			row.TimeWritten.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("failed to write record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush record file: %w", err)
	}

	log.Printf("[storage] Wrote daily chat record %s (%d messages)", path, len(rows))
	return path, nil
}

// Start runs the recorder in the background, writing the previous day's
// record at every local midnight.
func (r *DailyRecorder) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop cancels the background loop and waits for it to exit.
func (r *DailyRecorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *DailyRecorder) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		now := r.now()
		timer := time.NewTimer(untilMidnight(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case fired := <-timer.C:
			if _, err := r.WriteRecord(ctx, fired.AddDate(0, 0, -1)); err != nil {
				log.Printf("[storage] Daily chat record failed: %v", err)
			}
		}
	}
}

// untilMidnight returns the time left until the next local midnight.
func untilMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}
