// Package direction normalizes free-form movement input into canonical
// world directions, resolving relative tokens against a traveler heading.
package direction

import "strings"

// Direction is a canonical movement direction.
type Direction string

const (
	North     Direction = "north"
	South     Direction = "south"
	East      Direction = "east"
	West      Direction = "west"
	Northeast Direction = "northeast"
	Northwest Direction = "northwest"
	Southeast Direction = "southeast"
	Southwest Direction = "southwest"
	Up        Direction = "up"
	Down      Direction = "down"
	In        Direction = "in"
	Out       Direction = "out"
)

// Canonical lists every canonical direction in display order. Exit summaries
// and clarification prompts preserve this order.
var Canonical = []Direction{
	North, South, East, West,
	Northeast, Northwest, Southeast, Southwest,
	Up, Down, In, Out,
}

// canonicalRank maps a direction to its position in Canonical.
var canonicalRank = func() map[Direction]int {
	m := make(map[Direction]int, len(Canonical))
	for i, d := range Canonical {
		m[d] = i
	}
	return m
}()

// aliases maps accepted spellings to canonical directions.
var aliases = map[string]Direction{
	"north": North, "n": North,
	"south": South, "s": South,
	"east": East, "e": East,
	"west": West, "w": West,
	"northeast": Northeast, "ne": Northeast,
	"northwest": Northwest, "nw": Northwest,
	"southeast": Southeast, "se": Southeast,
	"southwest": Southwest, "sw": Southwest,
	"up": Up, "u": Up,
	"down": Down, "d": Down,
	"in": In, "inside": In, "enter": In,
	"out": Out, "outside": Out, "exit": Out, "leave": Out,
}

// relative tokens resolved against the traveler heading.
const (
	relLeft    = "left"
	relRight   = "right"
	relForward = "forward"
	relBack    = "back"
)

var relativeAliases = map[string]string{
	"left": relLeft, "l": relLeft,
	"right": relRight, "r": relRight,
	"forward": relForward, "fwd": relForward, "straight": relForward, "ahead": relForward,
	"back": relBack, "backward": relBack, "backwards": relBack,
}

// compassAngle gives the planar bearing in degrees for the eight compass
// directions. Vertical and radial directions have no bearing.
var compassAngle = map[Direction]int{
	North:     0,
	Northeast: 45,
	East:      90,
	Southeast: 135,
	South:     180,
	Southwest: 225,
	West:      270,
	Northwest: 315,
}

var angleToCompass = func() map[int]Direction {
	m := make(map[int]Direction, len(compassAngle))
	for d, a := range compassAngle {
		m[a] = d
	}
	return m
}()

// opposites pairs every canonical direction with its reciprocal.
var opposites = map[Direction]Direction{
	North: South, South: North,
	East: West, West: East,
	Northeast: Southwest, Southwest: Northeast,
	Northwest: Southeast, Southeast: Northwest,
	Up: Down, Down: Up,
	In: Out, Out: In,
}

// Status classifies the outcome of a normalization attempt.
type Status string

const (
	// StatusOK means the input resolved to a single canonical direction.
	StatusOK Status = "ok"
	// StatusAmbiguous means a relative token could not be resolved; the
	// result carries a clarification naming canonical alternatives.
	StatusAmbiguous Status = "ambiguous"
	// StatusUnknown means the input matched no known token.
	StatusUnknown Status = "unknown"
)

// Result is the outcome of Normalize.
type Result struct {
	Status        Status
	Canonical     Direction
	Clarification string
}

// IsCanonical reports whether s spells a canonical direction exactly.
func IsCanonical(s string) bool {
	_, ok := canonicalRank[Direction(s)]
	return ok
}

// Opposite returns the reciprocal of a canonical direction.
func Opposite(d Direction) (Direction, bool) {
	o, ok := opposites[d]
	return o, ok
}

// Rank returns the canonical display position of d, or len(Canonical) for
// anything unrecognized so unknown values sort last.
func Rank(d Direction) int {
	if r, ok := canonicalRank[d]; ok {
		return r
	}
	return len(Canonical)
}

// Normalize resolves raw movement input into a canonical direction. The
// heading is the traveler's last canonical direction of movement and may be
// empty when unknown; relative tokens without a usable heading come back
// ambiguous with a clarification listing canonical alternatives.
func Normalize(raw string, heading Direction) Result {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "" {
		return Result{
			Status:        StatusUnknown,
			Clarification: "No direction given. " + canonicalHint(),
		}
	}

	if d, ok := aliases[token]; ok {
		return Result{Status: StatusOK, Canonical: d}
	}

	rel, ok := relativeAliases[token]
	if !ok {
		return Result{
			Status:        StatusUnknown,
			Clarification: "Unknown direction " + quote(token) + ". " + canonicalHint(),
		}
	}
	return resolveRelative(rel, heading)
}

func resolveRelative(rel string, heading Direction) Result {
	if heading == "" {
		return ambiguous(rel, "your recent heading is unknown")
	}

	if angle, planar := compassAngle[heading]; planar {
		var turned int
		switch rel {
		case relForward:
			turned = angle
		case relBack:
			turned = (angle + 180) % 360
		case relLeft:
			turned = (angle + 270) % 360
		case relRight:
			turned = (angle + 90) % 360
		}
		return Result{Status: StatusOK, Canonical: angleToCompass[turned]}
	}

	// Vertical and radial headings have no left or right; forward keeps
	// going, back reverses.
	switch rel {
	case relForward:
		return Result{Status: StatusOK, Canonical: heading}
	case relBack:
		opp, ok := opposites[heading]
		if !ok {
			return ambiguous(rel, "your recent heading is unknown")
		}
		return Result{Status: StatusOK, Canonical: opp}
	default:
		return ambiguous(rel, "heading "+string(heading)+" has no "+rel)
	}
}

func ambiguous(rel, why string) Result {
	return Result{
		Status:        StatusAmbiguous,
		Clarification: "Cannot resolve " + quote(rel) + ": " + why + ". " + canonicalHint(),
	}
}

func canonicalHint() string {
	names := make([]string, len(Canonical))
	for i, d := range Canonical {
		names[i] = string(d)
	}
	return "Try one of: " + strings.Join(names, ", ") + "."
}

func quote(s string) string {
	return "'" + s + "'"
}
