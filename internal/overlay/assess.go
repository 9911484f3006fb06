package overlay

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/sells-group/siterisk/internal/polygon"
)

// Risk levels used in findings.
const (
	RiskMedium  = "medium"
	RiskLow     = "low"
	RiskNone    = "none"
	RiskUnknown = "unknown"
)

// Assessment sections, also the keys of Assessment.Errors.
const (
	SectionAnalysis   = "analysis"
	SectionALC        = "alc"
	SectionFlood      = "flood"
	SectionRenewables = "renewables"
)

const alcSurvey = "Agricultural Land Classification Survey"

// AssessOptions names the datasets an assessment draws on. Empty layer
// names skip that section.
type AssessOptions struct {
	Layers                  []string
	ALCLayer                string
	ALCAttribute            string
	FloodLayers             []string
	RenewablesLayer         string
	RenewablesNameAttribute string
	RenewablesDistanceM     float64
}

// Finding is one rule-based conclusion about the site.
type Finding struct {
	Topic              string   `json:"topic"`
	Risk               string   `json:"risk"`
	Summary            string   `json:"summary"`
	RecommendedSurveys []string `json:"recommended_surveys"`
}

// Assessment gathers every summary for a site plus derived findings.
type Assessment struct {
	Analysis   *AnalysisResult   `json:"analysis,omitempty"`
	ALC        *AreaSummary      `json:"alc,omitempty"`
	Flood      *CoverageSummary  `json:"flood,omitempty"`
	Renewables *ProximitySummary `json:"renewables,omitempty"`
	Findings   []Finding         `json:"findings"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Assess runs the overlay, ALC area, flood coverage and renewables proximity
// queries concurrently. A failing section is recorded in Errors and the
// remaining sections are still returned.
func (e *Engine) Assess(ctx context.Context, poly *polygon.Polygon, opts AssessOptions) (*Assessment, error) {
	if err := e.checkPolygon(poly); err != nil {
		return nil, err
	}

	out := &Assessment{}
	var mu sync.Mutex
	fail := func(section string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if out.Errors == nil {
			out.Errors = map[string]string{}
		}
		var lqe *LayerQueryError
		if errors.As(err, &lqe) {
			out.Errors[section] = lqe.Error()
			return
		}
		out.Errors[section] = err.Error()
	}

	var g errgroup.Group
	g.Go(func() error {
		res, err := e.Analyze(ctx, poly, opts.Layers)
		if err != nil {
			fail(SectionAnalysis, err)
			return nil
		}
		out.Analysis = res
		return nil
	})
	if opts.ALCLayer != "" {
		g.Go(func() error {
			res, err := e.AreaSummary(ctx, poly, opts.ALCLayer, opts.ALCAttribute)
			if err != nil {
				fail(SectionALC, err)
				return nil
			}
			out.ALC = res
			return nil
		})
	}
	if len(opts.FloodLayers) > 0 {
		g.Go(func() error {
			res, err := e.Coverage(ctx, poly, opts.FloodLayers)
			if err != nil {
				fail(SectionFlood, err)
				return nil
			}
			out.Flood = res
			return nil
		})
	}
	if opts.RenewablesLayer != "" {
		g.Go(func() error {
			res, err := e.Proximity(ctx, poly, opts.RenewablesLayer, opts.RenewablesDistanceM, opts.RenewablesNameAttribute)
			if err != nil {
				fail(SectionRenewables, err)
				return nil
			}
			out.Renewables = res
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "overlay: assessment cancelled")
	}

	out.Findings = []Finding{AgriculturalFinding(out.ALC)}
	return out, nil
}

// AgriculturalFinding applies the land classification rule: any grade 1, 2
// or 3 land on site is a medium risk; otherwise grade 4, 5 or urban land is
// a low risk. Only categories with a positive area count.
func AgriculturalFinding(alc *AreaSummary) Finding {
	f := Finding{Topic: "agricultural_land", RecommendedSurveys: []string{alcSurvey}}
	if alc == nil {
		f.Risk = RiskUnknown
		f.Summary = "Agricultural land classification data unavailable."
		return f
	}

	fold := cases.Fold()
	var high, low bool
	for _, c := range alc.ByCategory {
		if c.Category == nil || c.AreaHa <= 0 {
			continue
		}
		label := fold.String(*c.Category)
		if strings.ContainsAny(label, "123") {
			high = true
		}
		if strings.ContainsAny(label, "45") || strings.Contains(label, "urban") {
			low = true
		}
	}

	switch {
	case high:
		f.Risk = RiskMedium
		f.Summary = "Grades 1/2/3 present on site. This presents a medium risk."
	case low:
		f.Risk = RiskLow
		f.Summary = "Grades 4/5/Urban present on site. This presents a low risk."
	default:
		f.Risk = RiskNone
		f.Summary = "No mapped ALC grades detected on site."
	}
	return f
}
