package telemetry

// Event names form a closed registry. Handlers and workers reference these
// constants; Emitter rejects anything else and emits
// EventTelemetryNameInvalid in its place.
const (
	EventPingInvoked = "Ping.Invoked"

	EventOnboardingGuestStarted   = "Onboarding.GuestGuid.Started"
	EventOnboardingGuestCreated   = "Onboarding.GuestGuid.Created"
	EventOnboardingGuestCompleted = "Onboarding.GuestGuid.Completed"

	EventPlayerGet     = "Player.Get"
	EventPlayerCreated = "Player.Created"
	EventPlayerLinked  = "Player.Linked"

	EventLocationGet  = "Location.Get"
	EventLocationMove = "Location.Move"

	EventNavInputParsed       = "Navigation.Input.Parsed"
	EventNavInputAmbiguous    = "Navigation.Input.Ambiguous"
	EventNavMoveSuccess       = "Navigation.Move.Success"
	EventNavMoveBlocked       = "Navigation.Move.Blocked"
	EventNavLookIssued        = "Navigation.Look.Issued"
	EventNavExitGenRequested  = "Navigation.Exit.GenerationRequested"
	EventDataIntegrityWarning = "Navigation.Exit.IntegrityWarning"

	EventWorldLocationGenerated = "World.Location.Generated"
	EventWorldLocationUpsert    = "World.Location.Upsert"
	EventWorldLayerAdded        = "World.Layer.Added"
	EventWorldExitCreated       = "World.Exit.Created"
	EventWorldExitRemoved       = "World.Exit.Removed"
	EventWorldEventProcessed    = "World.Event.Processed"
	EventWorldEventDuplicate    = "World.Event.Duplicate"
	EventWorldEventRetried      = "World.Event.Retried"
	EventWorldEventDeadLettered = "World.Event.DeadLettered"
	EventWorldClockAdvanced     = "World.Clock.Advanced"
	EventWorldAreaGenRequested  = "World.Area.GenerationRequested"
	EventWorldSnapshotExported  = "World.Snapshot.Exported"
	EventWorldSnapshotImported  = "World.Snapshot.Imported"

	EventLocationClockInitialized = "Location.Clock.Initialized"
	EventLocationClockSynced      = "Location.Clock.Synced"
	EventLocationClockBatchSynced = "Location.Clock.BatchSynced"

	EventDescriptionGenerateStart   = "Description.Generate.Start"
	EventDescriptionGenerateSuccess = "Description.Generate.Success"
	EventDescriptionGenerateFailure = "Description.Generate.Failure"
	EventDescriptionCacheHit        = "Description.Cache.Hit"
	EventDescriptionCacheMiss       = "Description.Cache.Miss"
	EventIntegrityJobStart          = "Description.Integrity.JobStart"
	EventIntegrityJobComplete       = "Description.Integrity.JobComplete"
	EventIntegrityComputed          = "Description.Integrity.Computed"
	EventIntegrityUnchanged         = "Description.Integrity.Unchanged"
	EventIntegrityMismatch          = "Description.Integrity.Mismatch"

	EventAICostEstimated     = "AI.Cost.Estimated"
	EventAICostWindowSummary = "AI.Cost.WindowSummary"
	EventAICostSoftThreshold = "AI.Cost.SoftThresholdCrossed"

	EventSearchQueryCompleted = "Search.Query.Completed"

	EventSchedulerJobCompleted = "Scheduler.Job.Completed"

	EventTelemetryNameInvalid = "Telemetry.EventName.Invalid"
)

var knownEventNames = map[string]struct{}{
	EventPingInvoked:                {},
	EventOnboardingGuestStarted:     {},
	EventOnboardingGuestCreated:     {},
	EventOnboardingGuestCompleted:   {},
	EventPlayerGet:                  {},
	EventPlayerCreated:              {},
	EventPlayerLinked:               {},
	EventLocationGet:                {},
	EventLocationMove:               {},
	EventNavInputParsed:             {},
	EventNavInputAmbiguous:          {},
	EventNavMoveSuccess:             {},
	EventNavMoveBlocked:             {},
	EventNavLookIssued:              {},
	EventNavExitGenRequested:        {},
	EventDataIntegrityWarning:       {},
	EventWorldLocationGenerated:     {},
	EventWorldLocationUpsert:        {},
	EventWorldLayerAdded:            {},
	EventWorldExitCreated:           {},
	EventWorldExitRemoved:           {},
	EventWorldEventProcessed:        {},
	EventWorldEventDuplicate:        {},
	EventWorldEventRetried:          {},
	EventWorldEventDeadLettered:     {},
	EventWorldClockAdvanced:         {},
	EventWorldAreaGenRequested:      {},
	EventWorldSnapshotExported:      {},
	EventWorldSnapshotImported:      {},
	EventLocationClockInitialized:   {},
	EventLocationClockSynced:        {},
	EventLocationClockBatchSynced:   {},
	EventDescriptionGenerateStart:   {},
	EventDescriptionGenerateSuccess: {},
	EventDescriptionGenerateFailure: {},
	EventDescriptionCacheHit:        {},
	EventDescriptionCacheMiss:       {},
	EventIntegrityJobStart:          {},
	EventIntegrityJobComplete:       {},
	EventIntegrityComputed:          {},
	EventIntegrityUnchanged:         {},
	EventIntegrityMismatch:          {},
	EventAICostEstimated:            {},
	EventAICostWindowSummary:        {},
	EventAICostSoftThreshold:        {},
	EventSearchQueryCompleted:       {},
	EventSchedulerJobCompleted:      {},
	EventTelemetryNameInvalid:       {},
}

// KnownEventName reports whether name is part of the registry.
func KnownEventName(name string) bool {
	_, ok := knownEventNames[name]
	return ok
}
