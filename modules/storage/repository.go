package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/chatroom-coordinator/domain/chat"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrAccountNotFound is returned when no account has the username.
	ErrAccountNotFound = errors.New("account not found")
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username is already registered")
)

// AccountRepository persists accounts and the sign-in journal.
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *AccountRecord) error {
	result := r.db.WithContext(ctx).Create(account)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("failed to create account: %w", result.Error)
	}
	return nil
}

// FindByUsername finds an account by username.
func (r *AccountRepository) FindByUsername(ctx context.Context, username string) (*AccountRecord, error) {
	var account AccountRecord
	if err := r.db.WithContext(ctx).First(&account, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &account, nil
}

// Exists reports whether an account has the username.
func (r *AccountRepository) Exists(ctx context.Context, username string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&AccountRecord{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to count accounts: %w", err)
	}
	return count > 0, nil
}

// SetActivated changes the activation flag of an account.
func (r *AccountRepository) SetActivated(ctx context.Context, username string, activated bool) error {
	result := r.db.WithContext(ctx).Model(&AccountRecord{}).
		Where("username = ?", username).
		Update("activated", activated)
	if result.Error != nil {
		return fmt.Errorf("failed to update account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// RecordSignIn journals a sign-in unless the user is already signed in.
// It reports whether a row was written.
func (r *AccountRepository) RecordSignIn(ctx context.Context, username string, at time.Time) (bool, error) {
	recorded := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lastIn, hasIn, err := lastSignIn(tx, username)
		if err != nil {
			return err
		}
		lastOut, hasOut, err := lastSignOut(tx, username)
		if err != nil {
			return err
		}
		if hasIn && (!hasOut || !lastIn.Before(lastOut)) {
			return nil
		}
		recorded = true
		return tx.Create(&SignInRecord{Username: username, SignedInAt: at.UTC()}).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to record sign-in: %w", err)
	}
	return recorded, nil
}

// RecordSignOut journals a sign-out unless the user is already signed out.
// It reports whether a row was written.
func (r *AccountRepository) RecordSignOut(ctx context.Context, username string, at time.Time) (bool, error) {
	recorded := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lastIn, hasIn, err := lastSignIn(tx, username)
		if err != nil {
			return err
		}
		lastOut, hasOut, err := lastSignOut(tx, username)
		if err != nil {
			return err
		}
		if hasOut && (!hasIn || !lastIn.After(lastOut)) {
			return nil
		}
		recorded = true
		return tx.Create(&SignOutRecord{Username: username, SignedOutAt: at.UTC()}).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to record sign-out: %w", err)
	}
	return recorded, nil
}

func lastSignIn(tx *gorm.DB, username string) (time.Time, bool, error) {
	var rec SignInRecord
	err := tx.Where("username = ?", username).Order("signed_in_at DESC").Limit(1).Find(&rec).Error
	if err != nil {
		return time.Time{}, false, err
	}
	return rec.SignedInAt, rec.ID != 0, nil
}

func lastSignOut(tx *gorm.DB, username string) (time.Time, bool, error) {
	var rec SignOutRecord
	err := tx.Where("username = ?", username).Order("signed_out_at DESC").Limit(1).Find(&rec).Error
	if err != nil {
		return time.Time{}, false, err
	}
	return rec.SignedOutAt, rec.ID != 0, nil
}

// RoomRepository persists room ownership and messages.
type RoomRepository struct {
	db *gorm.DB
}

// NewRoomRepository creates a new RoomRepository.
func NewRoomRepository(db *gorm.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// GetOrCreate returns the room called name, creating it for creator when
// it does not exist yet. The first creator keeps the name.
func (r *RoomRepository) GetOrCreate(ctx context.Context, name, creator string, at time.Time) (*RoomRecord, error) {
	db := r.db.WithContext(ctx)
	candidate := RoomRecord{Name: name, Creator: creator, CreatedAt: at.UTC()}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate).Error; err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	var room RoomRecord
	if err := db.First(&room, "name = ?", name).Error; err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}
	return &room, nil
}

// StoreMessage appends a message.
func (r *RoomRepository) StoreMessage(ctx context.Context, msg chat.ChatMessage) error {
	if err := r.db.WithContext(ctx).Create(newMessageRecord(msg)).Error; err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

// Conversations lists the (day, room) pairs in which username wrote,
// ordered by day then room and numbered from 1.
func (r *RoomRepository) Conversations(ctx context.Context, username string) ([]chat.ConversationSummary, error) {
	var rows []MessageRecord
	err := r.db.WithContext(ctx).
		Select("room", "written_at").
		Where("author = ?", username).
		Order("written_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find conversations: %w", err)
	}

	type key struct {
		day  time.Time
		room string
	}
	seen := make(map[key]bool)
	var keys []key
	for _, row := range rows {
		k := key{day: startOfDay(row.WrittenAt), room: row.Room}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].day.Equal(keys[j].day) {
			return keys[i].day.Before(keys[j].day)
		}
		return keys[i].room < keys[j].room
	})

	conversations := make([]chat.ConversationSummary, 0, len(keys))
	for i, k := range keys {
		conversations = append(conversations, chat.ConversationSummary{
			Index: i + 1,
			Day:   k.day,
			Room:  k.room,
		})
	}
	return conversations, nil
}

// Messages returns the messages written in room on day, oldest first.
func (r *RoomRepository) Messages(ctx context.Context, day time.Time, room string) ([]chat.ChatMessage, error) {
	from := startOfDay(day)
	to := from.Add(24 * time.Hour)

	var rows []MessageRecord
	err := r.db.WithContext(ctx).
		Where("room = ? AND written_at >= ? AND written_at < ?", room, from, to).
		Order("written_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}

	messages := make([]chat.ChatMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.ToMessage())
	}
	return messages, nil
}

// RecordRow is one line of the daily chat record.
type RecordRow struct {
	RoomName    string
	RoomCreator string
	Username    string
	FirstName   string
	LastName    string
	UserRole    string
	Message     string
	TimeWritten time.Time
}

// RecordRows returns the messages written in [from, to) by registered
// users, ordered by room then time.
func (r *RoomRepository) RecordRows(ctx context.Context, from, to time.Time) ([]RecordRow, error) {
	var rows []RecordRow
	err := r.db.WithContext(ctx).
		Table("messages AS m").
		Select("r.name AS room_name, r.creator AS room_creator, a.username AS username, " +
			"a.first_name AS first_name, a.last_name AS last_name, a.role AS user_role, " +
			"m.body AS message, m.written_at AS time_written").
		Joins("JOIN rooms AS r ON r.name = m.room").
		Joins("JOIN accounts AS a ON a.username = m.author").
		Where("m.written_at >= ? AND m.written_at < ?", from.UTC(), to.UTC()).
		Order("r.name, m.written_at").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query chat records: %w", err)
	}
	return rows, nil
}

// startOfDay truncates t to midnight UTC.
func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
