package core

import "time"

// EventType is the platform-native event classification.
type EventType string

const (
	EventRaid       EventType = "raid"
	EventFollow     EventType = "follow"
	EventCheer      EventType = "cheer"
	EventDonation   EventType = "donation"
	EventSub        EventType = "sub"
	EventSubTier2   EventType = "sub_tier2"
	EventSubTier3   EventType = "sub_tier3"
	EventGiftSub    EventType = "giftsub"
	EventGiftTier2  EventType = "giftsub_tier2"
	EventGiftTier3  EventType = "giftsub_tier3"
	EventGiftBomb   EventType = "giftbomb"
	EventHypeTrain  EventType = "hypetrain"
	EventRedemption EventType = "redemption"
)

// EventMainType groups related EventTypes for rule lookup: all sub tiers
// collapse to MainSub, all gift variants to MainGiftSub.
type EventMainType string

const (
	MainRaid       EventMainType = "raid"
	MainFollow     EventMainType = "follow"
	MainCheer      EventMainType = "cheer"
	MainDonation   EventMainType = "donation"
	MainSub        EventMainType = "sub"
	MainGiftSub    EventMainType = "giftsub"
	MainHypeTrain  EventMainType = "hypetrain"
	MainRedemption EventMainType = "redemption"
)

// mainTypes is the authoritative EventType -> EventMainType mapping. Every
// EventType must appear here exactly once.
var mainTypes = map[EventType]EventMainType{
	EventRaid:       MainRaid,
	EventFollow:     MainFollow,
	EventCheer:      MainCheer,
	EventDonation:   MainDonation,
	EventSub:        MainSub,
	EventSubTier2:   MainSub,
	EventSubTier3:   MainSub,
	EventGiftSub:    MainGiftSub,
	EventGiftTier2:  MainGiftSub,
	EventGiftTier3:  MainGiftSub,
	EventGiftBomb:   MainGiftSub,
	EventHypeTrain:  MainHypeTrain,
	EventRedemption: MainRedemption,
}

// MainType resolves the coarse rule-lookup category. The second return is
// false for event types the engine does not know.
func (t EventType) MainType() (EventMainType, bool) {
	mt, ok := mainTypes[t]
	return mt, ok
}

// Known reports whether t is part of the closed event type enumeration.
func (t EventType) Known() bool {
	_, ok := mainTypes[t]
	return ok
}

// EventTypes returns every known EventType (order unspecified).
func EventTypes() []EventType {
	out := make([]EventType, 0, len(mainTypes))
	for t := range mainTypes {
		out = append(out, t)
	}
	return out
}

// Event is one occurrence reported by the platform. Immutable once created.
// Amount and Amount2 are magnitudes whose meaning depends on the event type
// (months subscribed, bits cheered, raid viewer count, gift count).
type Event struct {
	ID         int64
	Channel    string
	Username   string
	UsernameTo string
	Type       EventType
	Date       time.Time
	Text       string
	Amount     float64
	Amount2    float64
}

// AmountOrZero returns the event magnitude, treating negatives as absent.
func (e Event) AmountOrZero() float64 {
	if e.Amount < 0 {
		return 0
	}
	return e.Amount
}
