package wrapper

import (
	"fmt"
	"log"
	"slices"

	"github.com/opst/anawrap/pkg/configdoc"
)

// Comparison is the difference of a generated configuration to a baseline.
type Comparison struct {
	// AdditionalProcessors are global processors only the generated one has.
	AdditionalProcessors []string
	// MissingProcessors are global processors only the baseline has.
	MissingProcessors []string

	// Pipelines maps pipeline names to their differences.
	Pipelines map[string]PipelineComparison

	// Global lists differences outside of processors and pipelines.
	Global []configdoc.Change
}

type PipelineComparison struct {
	AdditionalProcessors []string
	MissingProcessors    []string
	AdditionalQuantities []string
	MissingQuantities    []string
	Settings             []configdoc.Change

	// Missing is set when the baseline has no such pipeline.
	Missing bool
}

// Empty reports that nothing differs.
func (c Comparison) Empty() bool {
	if len(c.AdditionalProcessors) != 0 || len(c.MissingProcessors) != 0 || len(c.Global) != 0 {
		return false
	}
	for _, p := range c.Pipelines {
		if !p.empty() {
			return false
		}
	}
	return true
}

func (p PipelineComparison) empty() bool {
	return !p.Missing &&
		len(p.AdditionalProcessors) == 0 &&
		len(p.MissingProcessors) == 0 &&
		len(p.AdditionalQuantities) == 0 &&
		len(p.MissingQuantities) == 0 &&
		len(p.Settings) == 0
}

// CompareDocuments compares generated with baseline.
//
// Processors and Quantities are compared as sets. Comment keys are ignored.
func CompareDocuments(generated, baseline configdoc.Document) Comparison {
	c := Comparison{Pipelines: map[string]PipelineComparison{}}
	c.AdditionalProcessors, c.MissingProcessors = setDiff(
		stringList(generated, "Processors"), stringList(baseline, "Processors"),
	)

	genPipes, _ := generated.Document("Pipelines")
	basePipes, _ := baseline.Document("Pipelines")
	for name := range genPipes.Iter() {
		gp, _ := genPipes.Document(name)
		bp, ok := basePipes.Document(name)
		if !ok {
			c.Pipelines[name] = PipelineComparison{Missing: true}
			continue
		}
		pc := PipelineComparison{}
		pc.AdditionalProcessors, pc.MissingProcessors = setDiff(
			stringList(gp, "Processors"), stringList(bp, "Processors"),
		)
		pc.AdditionalQuantities, pc.MissingQuantities = setDiff(
			stringList(gp, "Quantities"), stringList(bp, "Quantities"),
		)
		pc.Settings = configdoc.DiffIgnoring(
			bp.Without("Processors", "Quantities"),
			gp.Without("Processors", "Quantities"),
			configdoc.IsComment,
		)
		c.Pipelines[name] = pc
	}

	c.Global = configdoc.DiffIgnoring(
		baseline.Without("Pipelines", "Processors"),
		generated.Without("Pipelines", "Processors"),
		configdoc.IsComment,
	)
	return c
}

// Compare logs the comparison of generated with baseline.
func Compare(l *log.Logger, generated, baseline configdoc.Document) Comparison {
	c := CompareDocuments(generated, baseline)
	if c.Empty() {
		l.Printf("configurations do not differ")
		return c
	}
	report := func(prefix string, what string, names []string) {
		for _, n := range names {
			l.Printf("%s%s %s", prefix, what, n)
		}
	}
	report("", "additional processor", c.AdditionalProcessors)
	report("", "missing processor", c.MissingProcessors)

	names := make([]string, 0, len(c.Pipelines))
	for n := range c.Pipelines {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		p := c.Pipelines[n]
		if p.empty() {
			continue
		}
		prefix := fmt.Sprintf("pipeline %s: ", n)
		if p.Missing {
			l.Printf("%snot in the baseline", prefix)
			continue
		}
		report(prefix, "additional processor", p.AdditionalProcessors)
		report(prefix, "missing processor", p.MissingProcessors)
		report(prefix, "additional quantity", p.AdditionalQuantities)
		report(prefix, "missing quantity", p.MissingQuantities)
		for _, ch := range p.Settings {
			l.Printf("%s%s", prefix, ch)
		}
	}
	for _, ch := range c.Global {
		l.Printf("%s", ch)
	}
	return c
}

func stringList(d configdoc.Document, key string) []string {
	v, ok := d.Get(key)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	ret := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			ret = append(ret, s)
		}
	}
	return ret
}

// setDiff returns items only in a and items only in b, each in their order.
func setDiff(a, b []string) (onlyA []string, onlyB []string) {
	for _, x := range a {
		if !slices.Contains(b, x) && !slices.Contains(onlyA, x) {
			onlyA = append(onlyA, x)
		}
	}
	for _, x := range b {
		if !slices.Contains(a, x) && !slices.Contains(onlyB, x) {
			onlyB = append(onlyB, x)
		}
	}
	return onlyA, onlyB
}
