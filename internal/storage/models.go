package storage

import "time"

const (
	PlanFree  = "FREE"
	PlanTrial = "TRIAL"
	PlanPaid  = "PAID"
)

const (
	DurationWeek  = "WEEK"
	DurationMonth = "MONTH"
	DurationYear  = "YEAR"
)

type User struct {
	ID           string
	Email        string
	Username     string
	FullName     string
	PasswordHash string
	CreatedAt    time.Time
}

type Profile struct {
	UserID        string
	FavoriteSport string
	Details       string
	UpdatedAt     time.Time
}

type Session struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
}

type Exchange struct {
	ID          string
	SessionID   string
	UserID      string
	UserMessage string
	BotMessage  *string
	CreatedAt   time.Time
}

type SavedChat struct {
	ID        string
	UserID    string
	SessionID string
	Title     string
	PinDate   time.Time
	CreatedAt time.Time
}

type Subscription struct {
	ID              string
	UserID          string
	Plan            string
	EncStripeID     *string
	Duration        *string
	AmountPaidCents int64
	StartDate       *time.Time
	EndDate         *time.Time
}

type UsageCounter struct {
	UserID    string
	Used      int64
	CreatedAt time.Time
}

type SupportRequest struct {
	ID          string
	UserID      string
	Email       string
	Description string
	CreatedAt   time.Time
}
