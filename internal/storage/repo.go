package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrEmailTaken    = errors.New("storage: email already registered")
	ErrUsernameTaken = errors.New("storage: username already taken")
	ErrProfileLocked = errors.New("storage: profile already set")
	ErrAlreadySaved  = errors.New("storage: chat already saved")
)

// RegisterUser creates the user row together with its empty profile,
// FREE subscription and zeroed usage counter in a single transaction.
func (s *Store) RegisterUser(ctx context.Context, email, username, fullName, passwordHash string) (*User, error) {
	taken, err := s.emailOrUsernameTaken(ctx, email, username)
	if err != nil {
		return nil, err
	}
	if taken != nil {
		return nil, taken
	}

	now := time.Now().UTC()
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		FullName:     fullName,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.execTx(ctx, tx, s.sql.
		Insert("users").
		Columns("id", "email", "username", "full_name", "password_hash", "created_at").
		Values(u.ID, u.Email, u.Username, u.FullName, u.PasswordHash, u.CreatedAt)); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	if err := s.execTx(ctx, tx, s.sql.
		Insert("profiles").
		Columns("user_id", "favorite_sport", "details", "updated_at").
		Values(u.ID, "", "", now)); err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}

	if err := s.execTx(ctx, tx, s.sql.
		Insert("subscriptions").
		Columns("id", "user_id", "plan", "amount_paid_cents", "start_date").
		Values(uuid.NewString(), u.ID, PlanFree, 0, now)); err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}

	if err := s.execTx(ctx, tx, s.sql.
		Insert("usage_counters").
		Columns("user_id", "used", "created_at").
		Values(u.ID, 0, now)); err != nil {
		return nil, fmt.Errorf("insert usage counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return u, nil
}

func (s *Store) emailOrUsernameTaken(ctx context.Context, email, username string) (error, error) {
	query, args, err := s.sql.
		Select("email", "username").
		From("users").
		Where(sq.Or{sq.Eq{"email": email}, sq.Eq{"username": username}}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}
	var gotEmail, gotUsername string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&gotEmail, &gotUsername)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check user exists: %w", err)
	}
	if gotEmail == email {
		return ErrEmailTaken, nil
	}
	return ErrUsernameTaken, nil
}

func (s *Store) execTx(ctx context.Context, tx *sql.Tx, b sq.InsertBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, sq.Eq{"email": email})
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, sq.Eq{"id": id})
}

func (s *Store) getUser(ctx context.Context, pred sq.Eq) (*User, error) {
	query, args, err := s.sql.
		Select("id", "email", "username", "full_name", "password_hash", "created_at").
		From("users").
		Where(pred).
		ToSql()
	if err != nil {
		return nil, err
	}
	var u User
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&u.ID, &u.Email, &u.Username, &u.FullName, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	query, args, err := s.sql.
		Select("user_id", "favorite_sport", "details", "updated_at").
		From("profiles").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var p Profile
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&p.UserID, &p.FavoriteSport, &p.Details, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select profile: %w", err)
	}
	return &p, nil
}

// UpdateProfile fills the profile exactly once. A second attempt leaves the
// row untouched and reports ErrProfileLocked.
func (s *Store) UpdateProfile(ctx context.Context, userID, favoriteSport, details string) error {
	query, args, err := s.sql.
		Update("profiles").
		Set("favorite_sport", favoriteSport).
		Set("details", details).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"user_id": userID, "favorite_sport": "", "details": ""}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetProfile(ctx, userID); err != nil {
			return err
		}
		return ErrProfileLocked
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, userID, title string) (*Session, error) {
	if title == "" {
		title = "Latest Class"
	}
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	query, args, err := s.sql.
		Insert("sessions").
		Columns("id", "user_id", "title", "created_at").
		Values(sess.ID, sess.UserID, sess.Title, sess.CreatedAt).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	query, args, err := s.sql.
		Select("id", "user_id", "title", "created_at").
		From("sessions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var sess Session
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	query, args, err := s.sql.
		Select("id", "user_id", "title", "created_at").
		From("sessions").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// EnsureSession creates the session row if it does not exist yet. Turns can
// arrive for a session id minted client-side before any explicit create.
func (s *Store) EnsureSession(ctx context.Context, sessionID, userID string) (*Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	sess = &Session{
		ID:        sessionID,
		UserID:    userID,
		Title:     "Latest Class",
		CreatedAt: time.Now().UTC(),
	}
	query, args, err := s.sql.
		Insert("sessions").
		Columns("id", "user_id", "title", "created_at").
		Values(sess.ID, sess.UserID, sess.Title, sess.CreatedAt).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	return sess, nil
}

func (s *Store) AppendExchange(ctx context.Context, sessionID, userID, userMessage string, botMessage *string) (*Exchange, error) {
	ex := &Exchange{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		UserID:      userID,
		UserMessage: userMessage,
		BotMessage:  botMessage,
		CreatedAt:   time.Now().UTC(),
	}
	query, args, err := s.sql.
		Insert("exchanges").
		Columns("id", "session_id", "user_id", "user_message", "bot_message", "created_at").
		Values(ex.ID, ex.SessionID, ex.UserID, ex.UserMessage, ex.BotMessage, ex.CreatedAt).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert exchange: %w", err)
	}
	return ex, nil
}

// ListExchanges returns the session transcript oldest first.
func (s *Store) ListExchanges(ctx context.Context, sessionID string) ([]Exchange, error) {
	query, args, err := s.sql.
		Select("id", "session_id", "user_id", "user_message", "bot_message", "created_at").
		From("exchanges").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.UserID, &ex.UserMessage, &ex.BotMessage, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *Store) SaveChat(ctx context.Context, userID, sessionID, title string, pinDate time.Time) (*SavedChat, error) {
	query, args, err := s.sql.
		Select("id").
		From("saved_chats").
		Where(sq.Eq{"user_id": userID, "session_id": sessionID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var existing string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&existing)
	if err == nil {
		return nil, ErrAlreadySaved
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check saved chat: %w", err)
	}

	sc := &SavedChat{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Title:     title,
		PinDate:   pinDate,
		CreatedAt: time.Now().UTC(),
	}
	query, args, err = s.sql.
		Insert("saved_chats").
		Columns("id", "user_id", "session_id", "title", "pin_date", "created_at").
		Values(sc.ID, sc.UserID, sc.SessionID, sc.Title, sc.PinDate, sc.CreatedAt).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert saved chat: %w", err)
	}
	return sc, nil
}

func (s *Store) ListSavedChats(ctx context.Context, userID string) ([]SavedChat, error) {
	query, args, err := s.sql.
		Select("id", "user_id", "session_id", "title", "pin_date", "created_at").
		From("saved_chats").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("pin_date DESC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select saved chats: %w", err)
	}
	defer rows.Close()

	var out []SavedChat
	for rows.Next() {
		var sc SavedChat
		if err := rows.Scan(&sc.ID, &sc.UserID, &sc.SessionID, &sc.Title, &sc.PinDate, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan saved chat: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (*Subscription, error) {
	query, args, err := s.sql.
		Select("id", "user_id", "plan", "enc_stripe_id", "duration", "amount_paid_cents", "start_date", "end_date").
		From("subscriptions").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var sub Subscription
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&sub.ID, &sub.UserID, &sub.Plan, &sub.EncStripeID, &sub.Duration,
			&sub.AmountPaidCents, &sub.StartDate, &sub.EndDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select subscription: %w", err)
	}
	return &sub, nil
}

// StartTrial flips a FREE subscription to TRIAL. Paid plans are never
// downgraded here.
func (s *Store) StartTrial(ctx context.Context, userID string, until time.Time) error {
	query, args, err := s.sql.
		Update("subscriptions").
		Set("plan", PlanTrial).
		Set("start_date", time.Now().UTC()).
		Set("end_date", until).
		Where(sq.Eq{"user_id": userID, "plan": PlanFree}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("start trial: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivatePaid records a completed checkout. The Stripe identifier arrives
// already sealed by the crypto layer.
func (s *Store) ActivatePaid(ctx context.Context, userID, encStripeID, duration string, amountPaidCents int64, start, end time.Time) error {
	query, args, err := s.sql.
		Update("subscriptions").
		Set("plan", PlanPaid).
		Set("enc_stripe_id", encStripeID).
		Set("duration", duration).
		Set("amount_paid_cents", amountPaidCents).
		Set("start_date", start).
		Set("end_date", end).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("activate paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCheckoutRef stores the sealed checkout session id on the account's
// subscription row before the payment settles.
func (s *Store) SetCheckoutRef(ctx context.Context, userID, encStripeID string) error {
	query, args, err := s.sql.
		Update("subscriptions").
		Set("enc_stripe_id", encStripeID).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set checkout ref: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DowngradeToFree drops a TRIAL or PAID subscription back to the free plan.
// Accounts already on FREE have nothing to cancel.
func (s *Store) DowngradeToFree(ctx context.Context, userID string) error {
	query, args, err := s.sql.
		Update("subscriptions").
		Set("plan", PlanFree).
		Set("duration", nil).
		Set("end_date", nil).
		Where(sq.Eq{"user_id": userID}).
		Where(sq.NotEq{"plan": PlanFree}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("downgrade subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementUsage bumps the durable turn counter and returns the new value.
// The counter only grows, there is no reset path.
func (s *Store) IncrementUsage(ctx context.Context, userID string) (int64, error) {
	query, args, err := s.sql.
		Update("usage_counters").
		Set("used", sq.Expr("used + 1")).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		insert, insertArgs, err := s.sql.
			Insert("usage_counters").
			Columns("user_id", "used", "created_at").
			Values(userID, 1, time.Now().UTC()).
			ToSql()
		if err != nil {
			return 0, err
		}
		if _, err := s.db.ExecContext(ctx, insert, insertArgs...); err != nil {
			return 0, fmt.Errorf("insert usage counter: %w", err)
		}
		return 1, nil
	}
	return s.GetUsage(ctx, userID)
}

func (s *Store) GetUsage(ctx context.Context, userID string) (int64, error) {
	query, args, err := s.sql.
		Select("used").
		From("usage_counters").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return 0, err
	}
	var used int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select usage: %w", err)
	}
	return used, nil
}

func (s *Store) CreateSupportRequest(ctx context.Context, userID, email, description string) (*SupportRequest, error) {
	sr := &SupportRequest{
		ID:          uuid.NewString(),
		UserID:      userID,
		Email:       email,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	query, args, err := s.sql.
		Insert("support_requests").
		Columns("id", "user_id", "email", "description", "created_at").
		Values(sr.ID, sr.UserID, sr.Email, sr.Description, sr.CreatedAt).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert support request: %w", err)
	}
	return sr, nil
}
