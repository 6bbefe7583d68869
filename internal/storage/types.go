// Package storage defines the persistence model and store interfaces for the
// aether world engine.
package storage

import (
	"context"
	"time"
)

// Scope key prefixes used to partition documents.
const (
	ScopeLocationPrefix = "loc:"
	ScopePlayerPrefix   = "player:"
	ScopeRealmPrefix    = "realm:"
	ScopeGlobal         = "global:world"
)

// ScopeLocation builds the partition key for a location-scoped document.
func ScopeLocation(locationID string) string { return ScopeLocationPrefix + locationID }

// ScopePlayer builds the partition key for a player-scoped document.
func ScopePlayer(playerID string) string { return ScopePlayerPrefix + playerID }

// ScopeRealm builds the scope key for a realm-scoped description layer.
func ScopeRealm(realmID string) string { return ScopeRealmPrefix + realmID }

// EventStatus tracks a world event through its processing lifecycle.
type EventStatus string

const (
	EventStatusPending      EventStatus = "pending"
	EventStatusProcessed    EventStatus = "processed"
	EventStatusFailed       EventStatus = "failed"
	EventStatusDeadLettered EventStatus = "dead_lettered"
)

// ValidStatusTransition reports whether an event may move from one status to
// another. The machine is forward-only except for the failed -> pending retry
// edge.
func ValidStatusTransition(from, to EventStatus) bool {
	switch from {
	case EventStatusPending:
		return to == EventStatusProcessed || to == EventStatusFailed
	case EventStatusFailed:
		return to == EventStatusPending || to == EventStatusDeadLettered
	default:
		return false
	}
}

// ActorKind identifies what initiated a world event.
type ActorKind string

const (
	ActorPlayer ActorKind = "player"
	ActorSystem ActorKind = "system"
	ActorAI     ActorKind = "ai"
)

// LayerType classifies a description layer.
type LayerType string

const (
	LayerBase     LayerType = "base"
	LayerAmbient  LayerType = "ambient"
	LayerDynamic  LayerType = "dynamic"
	LayerWeather  LayerType = "weather"
	LayerLighting LayerType = "lighting"
)

// RealmTier orders realms from most local to most global. Layer resolution
// walks the containment chain outward.
type RealmTier string

const (
	TierLocal       RealmTier = "local"
	TierRegional    RealmTier = "regional"
	TierMacro       RealmTier = "macro"
	TierContinental RealmTier = "continental"
	TierGlobal      RealmTier = "global"
)

// Exit is a directed edge from one location to another.
type Exit struct {
	Direction    string `json:"direction"`
	ToLocationID string `json:"toLocationId"`
	Description  string `json:"description,omitempty"`
	Kind         string `json:"kind,omitempty"`
}

// ExitMetadata records exits that are spoken of but not yet traversable
// (pending) or permanently closed off (forbidden). Values are reasons.
type ExitMetadata struct {
	Pending   map[string]string `json:"pending,omitempty"`
	Forbidden map[string]string `json:"forbidden,omitempty"`
}

// Location is a node in the world graph.
type Location struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Version      int64         `json:"version"`
	Exits        []Exit        `json:"exits"`
	ExitsSummary string        `json:"exitsSummary"`
	ExitMeta     *ExitMetadata `json:"exitMeta,omitempty"`
	RealmID      string        `json:"realmId,omitempty"`
	CreatedUTC   time.Time     `json:"createdUtc"`
	UpdatedUTC   time.Time     `json:"updatedUtc"`
}

// Realm is a named region in the world containment hierarchy.
type Realm struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Tier       RealmTier `json:"tier"`
	ParentID   string    `json:"parentId,omitempty"`
	CreatedUTC time.Time `json:"createdUtc"`
}

// Player is a guest or linked account positioned somewhere in the world.
type Player struct {
	ID                string            `json:"id"`
	CreatedUTC        time.Time         `json:"createdUtc"`
	UpdatedUTC        time.Time         `json:"updatedUtc"`
	Guest             bool              `json:"guest"`
	ExternalID        string            `json:"externalId,omitempty"`
	CurrentLocationID string            `json:"currentLocationId"`
	Name              string            `json:"name,omitempty"`
	ClockTick         *int64            `json:"clockTick,omitempty"`
	Attributes        map[string]string `json:"attributes,omitempty"`
	InventoryVersion  int64             `json:"inventoryVersion"`
}

// ClockAdvancement is one entry in the world clock history.
type ClockAdvancement struct {
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"durationMs"`
	Reason     string    `json:"reason"`
	TickAfter  int64     `json:"tickAfter"`
}

// WorldClock is the singleton authoritative clock. Ticks are milliseconds of
// world time and only ever increase.
type WorldClock struct {
	CurrentTick  int64              `json:"currentTick"`
	LastAdvanced time.Time          `json:"lastAdvancedUtc"`
	History      []ClockAdvancement `json:"advancementHistory"`
	ETag         string             `json:"etag"`
}

// WorldClockAdvance describes a single advancement attempt. ExpectedETag must
// match the stored clock for the write to commit.
type WorldClockAdvance struct {
	DurationMs   int64
	Reason       string
	ExpectedETag string
}

// LocationClock anchors a location's local time to the world clock. The
// anchor never exceeds the world tick.
type LocationClock struct {
	LocationID  string    `json:"locationId"`
	ClockAnchor int64     `json:"clockAnchor"`
	LastSynced  time.Time `json:"lastSyncedUtc"`
	ETag        string    `json:"etag"`
}

// DescriptionLayer is a temporally bounded piece of descriptive text attached
// to a location or realm scope.
type DescriptionLayer struct {
	ID                string            `json:"id"`
	ScopeID           string            `json:"scopeId"`
	LayerType         LayerType         `json:"layerType"`
	Value             string            `json:"value"`
	EffectiveFromTick int64             `json:"effectiveFromTick"`
	EffectiveToTick   *int64            `json:"effectiveToTick,omitempty"`
	AuthoredAt        time.Time         `json:"authoredAt"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	IntegrityHash     string            `json:"integrityHash,omitempty"`
}

// ActiveAt reports whether the layer is valid at the given tick. Validity is
// inclusive of the from tick and exclusive of the to tick.
func (l *DescriptionLayer) ActiveAt(tick int64) bool {
	if tick < l.EffectiveFromTick {
		return false
	}
	return l.EffectiveToTick == nil || tick < *l.EffectiveToTick
}

// EventProcessingMetadata accumulates delivery attempts for an event.
type EventProcessingMetadata struct {
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"lastError,omitempty"`
	LastAttemptUTC time.Time `json:"lastAttemptUtc"`
}

// WorldEventRecord is one entry in a partitioned append-only event log.
// Identity fields (ID, ScopeKey, EventType, OccurredUTC, ActorKind, ActorID,
// CorrelationID, CausationID, IdempotencyKey, Payload) never change after
// append; only Status, ProcessedUTC, Processing and Version move.
type WorldEventRecord struct {
	ID             string                   `json:"id"`
	ScopeKey       string                   `json:"scopeKey"`
	EventType      string                   `json:"eventType"`
	Status         EventStatus              `json:"status"`
	OccurredUTC    time.Time                `json:"occurredUtc"`
	IngestedUTC    time.Time                `json:"ingestedUtc"`
	ProcessedUTC   *time.Time               `json:"processedUtc,omitempty"`
	ActorKind      ActorKind                `json:"actorKind"`
	ActorID        string                   `json:"actorId,omitempty"`
	CorrelationID  string                   `json:"correlationId"`
	CausationID    string                   `json:"causationId,omitempty"`
	IdempotencyKey string                   `json:"idempotencyKey"`
	Payload        map[string]interface{}   `json:"payload,omitempty"`
	Processing     *EventProcessingMetadata `json:"processing,omitempty"`
	Version        int64                    `json:"version"`
}

// EventStatusUpdate moves an event through the status machine. The store
// validates the transition and maintains processing metadata: failures bump
// the attempt counter, processed sets ProcessedUTC.
type EventStatusUpdate struct {
	Status    EventStatus
	LastError string
}

// EventQuery filters a scope-ordered event read.
type EventQuery struct {
	Status EventStatus
	From   *time.Time
	To     *time.Time
	Limit  int
}

// DefaultEventQueryLimit bounds QueryEventsByScope when the caller gives no
// limit.
const DefaultEventQueryLimit = 100

// DeadLetterRecord preserves a redacted snapshot of an event whose processing
// was abandoned.
type DeadLetterRecord struct {
	ID              string                 `json:"id"`
	OriginalEventID string                 `json:"originalEventId"`
	ScopeKey        string                 `json:"scopeKey"`
	EventType       string                 `json:"eventType"`
	Reason          string                 `json:"reason"`
	CorrelationID   string                 `json:"correlationId"`
	DeadLetteredUTC time.Time              `json:"deadLetteredUtc"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
}

// ExitHintDebounceRecord suppresses repeated generation hints for the same
// player, origin and direction inside a time window. Records expire after
// TTLSeconds.
type ExitHintDebounceRecord struct {
	ID               string    `json:"id"`
	ScopeKey         string    `json:"scopeKey"`
	DebounceKey      string    `json:"debounceKey"`
	PlayerID         string    `json:"playerId"`
	OriginLocationID string    `json:"originLocationId"`
	Direction        string    `json:"direction"`
	LastEmitUTC      time.Time `json:"lastEmitUtc"`
	TTLSeconds       int64     `json:"ttlSeconds"`
}

// LocationStore persists world graph nodes.
type LocationStore interface {
	PutLocation(ctx context.Context, loc *Location) error
	GetLocation(ctx context.Context, id string) (*Location, error)
	ListLocations(ctx context.Context) ([]*Location, error)
	DeleteLocation(ctx context.Context, id string) error
}

// PlayerStore persists players. Implementations maintain a unique external id
// index and a location occupancy index.
type PlayerStore interface {
	PutPlayer(ctx context.Context, p *Player) error
	GetPlayer(ctx context.Context, id string) (*Player, error)
	GetPlayerByExternalID(ctx context.Context, externalID string) (*Player, error)
	ListPlayersByLocation(ctx context.Context, locationID string) ([]*Player, error)
	ListPlayers(ctx context.Context) ([]*Player, error)
}

// RealmStore persists the realm hierarchy.
type RealmStore interface {
	PutRealm(ctx context.Context, r *Realm) error
	GetRealm(ctx context.Context, id string) (*Realm, error)
	ListRealms(ctx context.Context) ([]*Realm, error)
}

// WorldClockStore persists the singleton world clock under optimistic
// concurrency.
type WorldClockStore interface {
	GetWorldClock(ctx context.Context) (*WorldClock, error)
	InitializeWorldClock(ctx context.Context, initialTick int64) (*WorldClock, error)
	AdvanceWorldClock(ctx context.Context, adv WorldClockAdvance) (*WorldClock, error)
}

// LocationClockStore persists per-location clock anchors. UpsertLocationClock
// with an empty expected etag creates the record and fails with
// ErrAlreadyExists when one is present; a non-empty expected etag updates
// under CAS and fails with ErrConcurrentAdvancement on mismatch.
type LocationClockStore interface {
	GetLocationClock(ctx context.Context, locationID string) (*LocationClock, error)
	UpsertLocationClock(ctx context.Context, lc *LocationClock, expectedETag string) (*LocationClock, error)
	ListLocationClocks(ctx context.Context) ([]*LocationClock, error)
}

// LayerStore persists description layers keyed by (scope, id).
type LayerStore interface {
	PutLayer(ctx context.Context, layer *DescriptionLayer) error
	GetLayer(ctx context.Context, scopeID, id string) (*DescriptionLayer, error)
	ListLayersByScope(ctx context.Context, scopeID string) ([]*DescriptionLayer, error)
	// ListLayers pages across all scopes in stable key order for batch jobs.
	ListLayers(ctx context.Context, limit, offset int) ([]*DescriptionLayer, error)
	UpdateLayerIntegrity(ctx context.Context, scopeID, id, hash string) error
	DeleteLayer(ctx context.Context, scopeID, id string) error
}

// EventStore persists partitioned world event logs plus the cross-partition
// idempotency index.
type EventStore interface {
	// AppendEvent writes a new record. A second append with the same
	// (scopeKey, id) returns the stored record with created=false. An
	// idempotency key already bound to a different event fails with
	// ErrDuplicateIdempotencyKey.
	AppendEvent(ctx context.Context, rec *WorldEventRecord) (stored *WorldEventRecord, created bool, err error)
	GetEvent(ctx context.Context, scopeKey, id string) (*WorldEventRecord, error)
	GetEventByIdempotencyKey(ctx context.Context, key string) (*WorldEventRecord, error)
	UpdateEventStatus(ctx context.Context, scopeKey, id string, upd EventStatusUpdate) (*WorldEventRecord, error)
	// QueryEventsByScope returns a partition ordered by OccurredUTC ascending.
	QueryEventsByScope(ctx context.Context, scopeKey string, q EventQuery) ([]*WorldEventRecord, error)
	// ListPendingEvents returns pending records whose scope key starts with
	// scopePrefix (empty for all), oldest ingested first.
	ListPendingEvents(ctx context.Context, scopePrefix string, limit int) ([]*WorldEventRecord, error)
	// RecentEvents returns the newest ingested records across partitions.
	RecentEvents(ctx context.Context, limit int) ([]*WorldEventRecord, error)
}

// DeadLetterStore persists abandoned event snapshots.
type DeadLetterStore interface {
	PutDeadLetter(ctx context.Context, rec *DeadLetterRecord) error
	ListDeadLetters(ctx context.Context, from, to *time.Time, limit int) ([]*DeadLetterRecord, error)
}

// DebounceStore persists short-lived debounce markers. Implementations honor
// TTLSeconds and stop returning expired records.
type DebounceStore interface {
	GetDebounce(ctx context.Context, scopeKey, debounceKey string) (*ExitHintDebounceRecord, error)
	PutDebounce(ctx context.Context, rec *ExitHintDebounceRecord) error
}

// Store is the full persistence surface of the engine.
type Store interface {
	LocationStore
	PlayerStore
	RealmStore
	WorldClockStore
	LocationClockStore
	LayerStore
	EventStore
	DeadLetterStore
	DebounceStore

	// Maintenance
	Ping(ctx context.Context) error
	Close() error
	Stats(ctx context.Context) (*StoreStats, error)
}

// StoreStats represents storage statistics.
type StoreStats struct {
	LocationCount    int64     `json:"locationCount"`
	PlayerCount      int64     `json:"playerCount"`
	RealmCount       int64     `json:"realmCount"`
	LayerCount       int64     `json:"layerCount"`
	EventCount       int64     `json:"eventCount"`
	PendingEvents    int64     `json:"pendingEvents"`
	DeadLetterCount  int64     `json:"deadLetterCount"`
	WorldTick        int64     `json:"worldTick"`
	StorageSizeBytes int64     `json:"storageSizeBytes"`
	LastUpdated      time.Time `json:"lastUpdated"`
}

// ErrNotFound is returned when a requested item is not found.
type ErrNotFound struct {
	Type string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return e.Type + " not found: " + e.ID
}

// ErrAlreadyExists is returned when trying to create an item that already exists.
type ErrAlreadyExists struct {
	Type string
	ID   string
}

func (e *ErrAlreadyExists) Error() string {
	return e.Type + " already exists: " + e.ID
}

// ErrInvalidInput is returned when input validation fails.
type ErrInvalidInput struct {
	Field   string
	Message string
}

func (e *ErrInvalidInput) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// ErrConcurrentAdvancement is returned when an optimistic clock write loses
// the race: the expected etag no longer matches the stored document.
type ErrConcurrentAdvancement struct {
	Type     string
	Expected string
	Actual   string
}

func (e *ErrConcurrentAdvancement) Error() string {
	return "concurrent advancement on " + e.Type + ": expected etag " + e.Expected + ", found " + e.Actual
}

// ErrDuplicateIdempotencyKey is returned when an idempotency key is already
// bound to a different event.
type ErrDuplicateIdempotencyKey struct {
	Key             string
	ExistingEventID string
}

func (e *ErrDuplicateIdempotencyKey) Error() string {
	return "idempotency key " + e.Key + " already bound to event " + e.ExistingEventID
}

// ErrInvalidTransition is returned when an event status update violates the
// status machine.
type ErrInvalidTransition struct {
	From EventStatus
	To   EventStatus
}

func (e *ErrInvalidTransition) Error() string {
	return "invalid status transition: " + string(e.From) + " -> " + string(e.To)
}

// ErrExternalIDConflict is returned when linking an external id that is
// already bound to another player.
type ErrExternalIDConflict struct {
	ExternalID       string
	ExistingPlayerID string
}

func (e *ErrExternalIDConflict) Error() string {
	return "external id " + e.ExternalID + " already linked to player " + e.ExistingPlayerID
}
