package spc

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"composition-spc/analysis/record"
)

// UnboundedLiteral is the JSON form of an unbounded index.
const UnboundedLiteral = "Infinity"

// Index is a capability index that may be unbounded (zero dispersion) or
// not applicable (no specification limits).
type Index struct {
	Value         float64
	Unbounded     bool
	NotApplicable bool
}

// Bounded wraps a finite index value.
func Bounded(v float64) Index { return Index{Value: v} }

// Unbounded is the index of a perfectly repeatable process.
func Unbounded() Index { return Index{Unbounded: true} }

// NotApplicable is the index of an item without specification limits.
func NotApplicable() Index { return Index{NotApplicable: true} }

// Float returns the value, +Inf when unbounded and NaN when not applicable.
func (x Index) Float() float64 {
	switch {
	case x.NotApplicable:
		return math.NaN()
	case x.Unbounded:
		return math.Inf(1)
	}
	return x.Value
}

func (x Index) String() string {
	switch {
	case x.NotApplicable:
		return "n/a"
	case x.Unbounded:
		return "∞"
	}
	return fmt.Sprintf("%.3f", x.Value)
}

func (x Index) MarshalJSON() ([]byte, error) {
	switch {
	case x.NotApplicable:
		return []byte("null"), nil
	case x.Unbounded:
		return json.Marshal(UnboundedLiteral)
	}
	return json.Marshal(x.Value)
}

func (x *Index) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*x = NotApplicable()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if !strings.EqualFold(s, UnboundedLiteral) {
			return fmt.Errorf("invalid capability index %q", s)
		}
		*x = Unbounded()
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*x = Bounded(v)
	return nil
}

// CapabilityStatus tells how the indices were obtained.
type CapabilityStatus string

const (
	CapabilityComputed      CapabilityStatus = "computed"
	CapabilityUnbounded     CapabilityStatus = "unbounded"
	CapabilityNotApplicable CapabilityStatus = "not_applicable"
)

// Capability holds Cp/Cpu/Cpl/Cpk and the predicted defect rate.
type Capability struct {
	Status CapabilityStatus `json:"status"`
	USL    float64          `json:"usl"`
	LSL    float64          `json:"lsl"`
	Mean   float64          `json:"mean"`
	StdDev float64          `json:"std_dev"`
	Cp     Index            `json:"cp"`
	Cpu    Index            `json:"cpu"`
	Cpl    Index            `json:"cpl"`
	Cpk    Index            `json:"cpk"`
	// PPM is the expected out-of-spec rate per million under a normal model.
	PPM Index `json:"ppm"`
}

// Applicable reports whether spec limits were available.
func (c Capability) Applicable() bool {
	return c.Status != CapabilityNotApplicable
}

// ComputeCapability applies the standard capability formulas to the actual
// values against a single (usl, lsl) window.
func ComputeCapability(actuals []float64, usl, lsl float64) Capability {
	c := Capability{USL: usl, LSL: lsl}

	var std float64
	switch len(actuals) {
	case 0:
	case 1:
		c.Mean = actuals[0]
	default:
		c.Mean, std = stat.MeanStdDev(actuals, nil)
	}

	if std == 0 || math.IsNaN(std) {
		c.Status = CapabilityUnbounded
		c.Cp, c.Cpu, c.Cpl, c.Cpk = Unbounded(), Unbounded(), Unbounded(), Unbounded()
		// Limit of the normal model as the spread vanishes.
		c.PPM = Bounded(0)
		if c.Mean > usl || c.Mean < lsl {
			c.PPM = Bounded(1e6)
		}
		return c
	}

	c.Status = CapabilityComputed
	c.StdDev = std
	cpu := (usl - c.Mean) / (3 * std)
	cpl := (c.Mean - lsl) / (3 * std)
	c.Cp = Bounded((usl - lsl) / (6 * std))
	c.Cpu = Bounded(cpu)
	c.Cpl = Bounded(cpl)
	c.Cpk = Bounded(math.Min(cpu, cpl))

	zUpper := (usl - c.Mean) / std
	zLower := (c.Mean - lsl) / std
	c.PPM = Bounded(1e6 * (distuv.UnitNormal.Survival(zUpper) + distuv.UnitNormal.Survival(zLower)))
	return c
}

// CapabilityForSeries uses the means of the series' limit columns as its
// spec window. Without both limits the result is not applicable.
func CapabilityForSeries(s record.ItemSeries) Capability {
	uppers, lowers := s.UpperLimits(), s.LowerLimits()
	if len(uppers) == 0 || len(lowers) == 0 {
		na := NotApplicable()
		return Capability{Status: CapabilityNotApplicable, Cp: na, Cpu: na, Cpl: na, Cpk: na, PPM: na}
	}
	return ComputeCapability(s.Actuals(), stat.Mean(uppers, nil), stat.Mean(lowers, nil))
}
