// Package voice maps recognized speech tokens to wearable UI stages, the
// command vocabulary the recognizer should accept next, and delegated call
// accept/reject intents.
package voice

import (
	"context"
	"strings"
	"sync"

	"github.com/gridlens/fieldcall/shared"
	"github.com/gridlens/fieldcall/sites"
	"go.uber.org/zap"
)

type Stage int

const (
	StageSelectSite Stage = iota
	StageMenu
	StageBasicInfo
	StageFloodTrend
	StageHistoricalEnergy
	StageForecastEnergy
)

func (s Stage) String() string {
	switch s {
	case StageSelectSite:
		return "select_site"
	case StageMenu:
		return "menu"
	case StageBasicInfo:
		return "basic_info"
	case StageFloodTrend:
		return "flood_trend"
	case StageHistoricalEnergy:
		return "historical_energy"
	case StageForecastEnergy:
		return "forecast_energy"
	default:
		return "unknown"
	}
}

// Site is one selectable entry of the fixed site list.
type Site struct {
	Label       string
	Reference   string
	DisplayName string
}

// CallControl receives delegated call intents. Both methods are
// fire-and-forget; the controller observes no result.
type CallControl interface {
	Accept()
	Reject()
}

// VocabularySink receives each recomputed command list. The list replaces
// the recognizer's previous vocabulary wholesale.
type VocabularySink interface {
	PushVocabulary(ctx context.Context, commands []string) error
}

const DefaultPageSize = 5

const (
	cmdMenu     = "menu"
	cmdBack     = "back"
	cmdAccept   = "accept"
	cmdReject   = "reject"
	cmdNext     = "next"
	cmdPrevious = "previous"

	cmdReselectSite   = "reselect site"
	cmdBasicInfo      = "basic info"
	cmdFloodTrend     = "flooding trend"
	cmdHistoricalDem  = "historical energy demand"
	cmdForecastDemand = "forecast energy demand"
)

var ordinalDigits = map[string]byte{
	"one": '1', "two": '2', "three": '3', "four": '4', "five": '5',
	"1": '1', "2": '2', "3": '3', "4": '4', "5": '5',
}

// Controller is the wearable command state machine. Every input has a
// defined output: unrecognized tokens and out-of-range page moves return an
// empty vocabulary, meaning "nothing to send", never an error. Tokens are
// handled one at a time in arrival order.
type Controller struct {
	logger  shared.LoggerAdapter
	lookup  sites.Lookup
	control CallControl

	mu             sync.Mutex
	stage          Stage
	sites          []Site
	pageSize       int
	page           int
	selectedRef    string
	selectedDetail *sites.Detail
}

func NewController(logger shared.LoggerAdapter, siteList []Site, lookup sites.Lookup, control CallControl, pageSize int) (*Controller, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if lookup == nil {
		return nil, shared.ErrNoLookup
	}
	if control == nil {
		return nil, shared.ErrNoCallControl
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Controller{
		logger:   logger,
		lookup:   lookup,
		control:  control,
		stage:    StageSelectSite,
		sites:    append([]Site(nil), siteList...),
		pageSize: pageSize,
	}, nil
}

func (c *Controller) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

func (c *Controller) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

func (c *Controller) SelectedReference() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedRef
}

func (c *Controller) SelectedDetail() *sites.Detail {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedDetail
}

// InitialVocabulary is the grammar to push when the screen activates:
// page-0 site labels plus the menu command.
func (c *Controller) InitialVocabulary() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(c.pageLabels(0), cmdMenu)
}

// Handle consumes one recognized token and returns the replacement command
// vocabulary, empty when the grammar is unchanged.
func (c *Controller) Handle(ctx context.Context, token string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	token = strings.ToLower(strings.TrimSpace(token))
	c.logger.Debug("handling token", zap.String("token", token), zap.String("stage", c.stage.String()))

	switch token {
	case cmdMenu:
		c.stage = StageMenu
		return []string{cmdReselectSite, cmdBasicInfo, cmdFloodTrend, cmdHistoricalDem, cmdForecastDemand, cmdBack, cmdMenu}
	case cmdAccept:
		c.control.Accept()
		return nil
	case cmdReject:
		c.control.Reject()
		return nil
	case cmdBack:
		c.stage = StageSelectSite
		c.selectedRef = ""
		c.selectedDetail = nil
		return append(c.pageLabels(c.page), cmdMenu)
	}

	switch c.stage {
	case StageSelectSite:
		return c.handleSelectSite(ctx, token)
	case StageMenu:
		return c.handleMenu(token)
	default:
		// Display stages only answer the global commands.
		return nil
	}
}

func (c *Controller) handleSelectSite(ctx context.Context, token string) []string {
	switch token {
	case cmdNext:
		if c.page >= c.maxPage() {
			return nil
		}
		c.page++
		return append(c.pageLabels(c.page), cmdPrevious, cmdNext)
	case cmdPrevious:
		if c.page <= 0 {
			return nil
		}
		c.page--
		return append(c.pageLabels(c.page), cmdPrevious, cmdNext)
	}

	if site, ok := c.matchSite(token); ok {
		return c.selectSite(ctx, site)
	}
	return nil
}

func (c *Controller) handleMenu(token string) []string {
	switch token {
	case cmdReselectSite:
		c.stage = StageSelectSite
		c.page = 0
		c.selectedRef = ""
		c.selectedDetail = nil
		return append(c.pageLabels(0), cmdMenu)
	case cmdBasicInfo:
		c.stage = StageBasicInfo
	case cmdFloodTrend:
		c.stage = StageFloodTrend
	case cmdHistoricalDem:
		c.stage = StageHistoricalEnergy
	case cmdForecastDemand:
		c.stage = StageForecastEnergy
	default:
		return nil
	}
	return []string{cmdBack, cmdMenu}
}

// matchSite resolves a token against the currently visible page: an exact
// case-insensitive label match, or an ordinal word/digit matched against
// the label's trailing character.
func (c *Controller) matchSite(token string) (Site, bool) {
	visible := c.visibleSites()
	for _, site := range visible {
		if strings.EqualFold(token, site.Label) {
			return site, true
		}
	}
	digit, ok := ordinalDigits[token]
	if !ok {
		return Site{}, false
	}
	for _, site := range visible {
		if site.Label != "" && site.Label[len(site.Label)-1] == digit {
			return site, true
		}
	}
	return Site{}, false
}

func (c *Controller) selectSite(ctx context.Context, site Site) []string {
	c.selectedRef = site.Reference
	c.selectedDetail = nil
	detail, err := c.lookup.DetailByReference(ctx, site.Reference)
	if err != nil {
		// No detail yet; the stage transition proceeds regardless.
		c.logger.Warn("site detail lookup failed", zap.String("reference", site.Reference), zap.Error(err))
	}
	c.selectedDetail = detail
	c.stage = StageBasicInfo
	c.logger.Info("site selected", zap.String("reference", site.Reference), zap.String("name", site.DisplayName))
	return []string{cmdBack, cmdMenu}
}

func (c *Controller) maxPage() int {
	if len(c.sites) == 0 {
		return 0
	}
	return (len(c.sites) - 1) / c.pageSize
}

func (c *Controller) visibleSites() []Site {
	start := c.page * c.pageSize
	if start >= len(c.sites) {
		return nil
	}
	end := min(start+c.pageSize, len(c.sites))
	return c.sites[start:end]
}

func (c *Controller) pageLabels(page int) []string {
	start := page * c.pageSize
	if start >= len(c.sites) {
		return nil
	}
	end := min(start+c.pageSize, len(c.sites))
	labels := make([]string, 0, end-start)
	for _, site := range c.sites[start:end] {
		labels = append(labels, site.Label)
	}
	return labels
}
