// Package metadata fills per-dataset values into a configuration document.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/opst/anawrap/pkg/configdoc"
)

// ErrFatalMetadata is returned when a required value of a dataset can be
// neither found in the document nor looked up. The run must be aborted.
var ErrFatalMetadata = errors.New("required dataset metadata is missing")

const (
	KeyGeneratedEvents = "NumberGeneratedEvents"
	KeyCrossSection    = "CrossSection"
	KeyGeneratorWeight = "GeneratorWeight"
)

// Lookup finds metadata of datasets by nickname.
//
// The bool results tell whether the value is known. An error means the
// lookup itself failed.
type Lookup interface {
	GeneratedEvents(ctx context.Context, nick string) (int64, bool, error)
	CrossSection(ctx context.Context, nick string) (float64, bool, error)
	GeneratorWeight(ctx context.Context, nick string) (float64, bool, error)

	// IsData reports whether the nickname is recorded (real) data rather
	// than a simulated sample.
	IsData(ctx context.Context, nick string) (bool, error)
}

// Enrich sets NumberGeneratedEvents, CrossSection and GeneratorWeight of doc.
//
// A value already in doc is kept when valid:
//
//   - NumberGeneratedEvents: >= 0
//   - CrossSection: >= 0
//   - GeneratorWeight: in (0, 1]
//
// Otherwise it is looked up and set when the looked up value is valid
// (counts and cross sections must be > 0). When NumberGeneratedEvents or
// CrossSection remain unset for a nickname of real data, ErrFatalMetadata is
// returned. For simulated samples they are left unset with a warning.
// GeneratorWeight is never required.
func Enrich(
	ctx context.Context,
	l *log.Logger,
	doc configdoc.Document,
	nick string,
	lookup Lookup,
) (configdoc.Document, error) {
	isData := func() (bool, error) {
		d, err := lookup.IsData(ctx, nick)
		if err != nil {
			return false, fmt.Errorf("looking up whether %s is data: %w", nick, err)
		}
		return d, nil
	}

	if v, ok := doc.Int(KeyGeneratedEvents); !ok || v < 0 {
		n, found, err := lookup.GeneratedEvents(ctx, nick)
		if err != nil {
			return configdoc.Document{}, fmt.Errorf("looking up generated events of %s: %w", nick, err)
		}
		if found && n > 0 {
			doc = doc.With(KeyGeneratedEvents, n)
		} else if data, err := isData(); err != nil {
			return configdoc.Document{}, err
		} else if data {
			return configdoc.Document{}, fmt.Errorf(
				"%w: number of generated events is not set for %s. check the datasets for the nickname",
				ErrFatalMetadata, nick,
			)
		} else {
			l.Printf("WARNING: number of generated events is unknown for %s", nick)
		}
	}

	if v, ok := doc.Float(KeyCrossSection); !ok || v < 0 {
		x, found, err := lookup.CrossSection(ctx, nick)
		if err != nil {
			return configdoc.Document{}, fmt.Errorf("looking up cross section of %s: %w", nick, err)
		}
		if found && x > 0 {
			doc = doc.With(KeyCrossSection, x)
		} else if data, err := isData(); err != nil {
			return configdoc.Document{}, err
		} else if data {
			return configdoc.Document{}, fmt.Errorf(
				"%w: cross section is not set for %s. check the datasets for the nickname",
				ErrFatalMetadata, nick,
			)
		} else {
			l.Printf("WARNING: cross section is unknown for %s", nick)
		}
	}

	if v, ok := doc.Float(KeyGeneratorWeight); !ok || !validWeight(v) {
		w, found, err := lookup.GeneratorWeight(ctx, nick)
		if err != nil {
			return configdoc.Document{}, fmt.Errorf("looking up generator weight of %s: %w", nick, err)
		}
		if found && validWeight(w) {
			doc = doc.With(KeyGeneratorWeight, w)
		}
	}

	return doc, nil
}

func validWeight(w float64) bool {
	return 0 < w && w <= 1
}

// Nop knows nothing, and treats every nickname as simulated.
type Nop struct{}

var _ Lookup = Nop{}

func (Nop) GeneratedEvents(context.Context, string) (int64, bool, error)   { return 0, false, nil }
func (Nop) CrossSection(context.Context, string) (float64, bool, error)    { return 0, false, nil }
func (Nop) GeneratorWeight(context.Context, string) (float64, bool, error) { return 0, false, nil }
func (Nop) IsData(context.Context, string) (bool, error)                   { return false, nil }

// First asks lookups in order and takes the first known value.
//
// A nickname is data when any lookup says so.
func First(lookups ...Lookup) Lookup {
	return first(lookups)
}

type first []Lookup

func (f first) GeneratedEvents(ctx context.Context, nick string) (int64, bool, error) {
	for _, l := range f {
		if v, ok, err := l.GeneratedEvents(ctx, nick); err != nil || ok {
			return v, ok, err
		}
	}
	return 0, false, nil
}

func (f first) CrossSection(ctx context.Context, nick string) (float64, bool, error) {
	for _, l := range f {
		if v, ok, err := l.CrossSection(ctx, nick); err != nil || ok {
			return v, ok, err
		}
	}
	return 0, false, nil
}

func (f first) GeneratorWeight(ctx context.Context, nick string) (float64, bool, error) {
	for _, l := range f {
		if v, ok, err := l.GeneratorWeight(ctx, nick); err != nil || ok {
			return v, ok, err
		}
	}
	return 0, false, nil
}

func (f first) IsData(ctx context.Context, nick string) (bool, error) {
	for _, l := range f {
		d, err := l.IsData(ctx, nick)
		if err != nil || d {
			return d, err
		}
	}
	return false, nil
}
