package core

import "time"

// EventType enumerates ledger domain events published on the bus.
type EventType string

const (
	EventPointsEarned        EventType = "points_earned"
	EventLevelUp             EventType = "level_up"
	EventStreakExtended      EventType = "streak_extended"
	EventAchievementUnlocked EventType = "achievement_unlocked"
)

// Event is an immutable notification of something the ledger did.
type Event struct {
	Type       EventType  `json:"type"`
	Time       time.Time  `json:"time"`
	UserID     UserID     `json:"user_id"`
	Kind       ActionKind `json:"kind,omitempty"`
	Points     int64      `json:"points,omitempty"`
	Experience int64      `json:"experience,omitempty"`
	Level      int64      `json:"level,omitempty"`
	Streak     int64      `json:"streak,omitempty"`
	RewardID   RewardID   `json:"reward_id,omitempty"`
	Title      string     `json:"title,omitempty"`
}

func NewPointsEarned(user UserID, kind ActionKind, points int64, experience int64) Event {
	return Event{Type: EventPointsEarned, Time: time.Now().UTC(), UserID: user, Kind: kind, Points: points, Experience: experience}
}

func NewLevelUp(user UserID, level int64, experience int64) Event {
	return Event{Type: EventLevelUp, Time: time.Now().UTC(), UserID: user, Level: level, Experience: experience}
}

func NewStreakExtended(user UserID, streak int64) Event {
	return Event{Type: EventStreakExtended, Time: time.Now().UTC(), UserID: user, Streak: streak}
}

func NewAchievementUnlocked(user UserID, reward RewardID, title string, points int64) Event {
	return Event{Type: EventAchievementUnlocked, Time: time.Now().UTC(), UserID: user, RewardID: reward, Title: title, Points: points}
}
