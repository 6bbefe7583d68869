package memory

import "github.com/openmud/aether/internal/storage"

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyAnyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneLocation(loc *storage.Location) *storage.Location {
	out := *loc
	if loc.Exits != nil {
		out.Exits = make([]storage.Exit, len(loc.Exits))
		copy(out.Exits, loc.Exits)
	}
	if loc.ExitMeta != nil {
		out.ExitMeta = &storage.ExitMetadata{
			Pending:   copyStringMap(loc.ExitMeta.Pending),
			Forbidden: copyStringMap(loc.ExitMeta.Forbidden),
		}
	}
	return &out
}

func clonePlayer(p *storage.Player) *storage.Player {
	out := *p
	out.Attributes = copyStringMap(p.Attributes)
	if p.ClockTick != nil {
		tick := *p.ClockTick
		out.ClockTick = &tick
	}
	return &out
}

func cloneRealm(r *storage.Realm) *storage.Realm {
	out := *r
	return &out
}

func cloneWorldClock(wc *storage.WorldClock) *storage.WorldClock {
	out := *wc
	if wc.History != nil {
		out.History = make([]storage.ClockAdvancement, len(wc.History))
		copy(out.History, wc.History)
	}
	return &out
}

func cloneLocationClock(lc *storage.LocationClock) *storage.LocationClock {
	out := *lc
	return &out
}

func cloneLayer(l *storage.DescriptionLayer) *storage.DescriptionLayer {
	out := *l
	out.Metadata = copyStringMap(l.Metadata)
	if l.EffectiveToTick != nil {
		to := *l.EffectiveToTick
		out.EffectiveToTick = &to
	}
	return &out
}

func cloneEvent(e *storage.WorldEventRecord) *storage.WorldEventRecord {
	out := *e
	out.Payload = copyAnyMap(e.Payload)
	if e.ProcessedUTC != nil {
		t := *e.ProcessedUTC
		out.ProcessedUTC = &t
	}
	if e.Processing != nil {
		p := *e.Processing
		out.Processing = &p
	}
	return &out
}

func cloneDeadLetter(d *storage.DeadLetterRecord) *storage.DeadLetterRecord {
	out := *d
	out.Payload = copyAnyMap(d.Payload)
	return &out
}

func cloneDebounce(r *storage.ExitHintDebounceRecord) *storage.ExitHintDebounceRecord {
	out := *r
	return &out
}
