package repository

import (
	"time"

	mailboxdomain "scholarmail-backend/internal/mailbox/domain"

	"gorm.io/gorm"
)

type connectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository creates a GORM-backed ConnectionRepository.
func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) Create(conn *mailboxdomain.MailboxConnection) error {
	return r.db.Create(conn).Error
}

func (r *connectionRepository) FindByID(id string) (*mailboxdomain.MailboxConnection, error) {
	var conn mailboxdomain.MailboxConnection
	err := r.db.Where("id = ?", id).First(&conn).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) FindByEmailAddress(emailAddress string) (*mailboxdomain.MailboxConnection, error) {
	var conn mailboxdomain.MailboxConnection
	err := r.db.Where("email_address = ?", emailAddress).First(&conn).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) ListAll() ([]*mailboxdomain.MailboxConnection, error) {
	var conns []*mailboxdomain.MailboxConnection
	if err := r.db.Order("created_at").Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

func (r *connectionRepository) UpdateTokens(id string, accessTokenEnc, refreshTokenEnc []byte, expiry time.Time) error {
	updates := map[string]interface{}{
		"access_token_enc": accessTokenEnc,
		"token_expiry":     expiry,
	}
	if refreshTokenEnc != nil {
		updates["refresh_token_enc"] = refreshTokenEnc
	}
	return r.db.Model(&mailboxdomain.MailboxConnection{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// AdvanceCursor is a single conditional UPDATE: a stale writer racing a
// fresher one simply matches zero rows.
func (r *connectionRepository) AdvanceCursor(id string, historyID uint64) error {
	return r.db.Model(&mailboxdomain.MailboxConnection{}).
		Where("id = ? AND (last_history_id IS NULL OR last_history_id <= ?)", id, historyID).
		Update("last_history_id", historyID).Error
}

func (r *connectionRepository) Pause(id, reason string) error {
	return r.db.Model(&mailboxdomain.MailboxConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        mailboxdomain.StatusPaused,
			"paused_reason": reason,
		}).Error
}

func (r *connectionRepository) Resume(id string) error {
	return r.db.Model(&mailboxdomain.MailboxConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        mailboxdomain.StatusActive,
			"paused_reason": "",
		}).Error
}
