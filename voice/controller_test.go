package voice

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/gridlens/fieldcall/shared"
	"github.com/gridlens/fieldcall/sites"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingControl struct {
	mu      sync.Mutex
	accepts int
	rejects int
}

func (c *recordingControl) Accept() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepts++
}

func (c *recordingControl) Reject() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejects++
}

var topMenu = []string{
	"reselect site", "basic info", "flooding trend",
	"historical energy demand", "forecast energy demand", "back", "menu",
}

func sixSites() []Site {
	out := make([]Site, 0, 6)
	for i := 1; i <= 6; i++ {
		out = append(out, Site{
			Label:       fmt.Sprintf("Site %d", i),
			Reference:   fmt.Sprintf("r%d", i),
			DisplayName: fmt.Sprintf("Substation %d", i),
		})
	}
	return out
}

func newController(t *testing.T, siteList []Site, lookup sites.Lookup, pageSize int) (*Controller, *recordingControl) {
	t.Helper()
	control := new(recordingControl)
	if lookup == nil {
		lookup = sites.Static{}
	}
	c, err := NewController(shared.NewNopLogger(), siteList, lookup, control, pageSize)
	require.NoError(t, err)
	return c, control
}

func TestPaginationClamps(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, sixSites(), nil, 2)

	assert.Equal(t, 0, c.Page())
	assert.Equal(t, []string{"Site 3", "Site 4", "previous", "next"}, c.Handle(ctx, "next"))
	assert.Equal(t, 1, c.Page())
	assert.Equal(t, []string{"Site 5", "Site 6", "previous", "next"}, c.Handle(ctx, "next"))
	assert.Equal(t, 2, c.Page())
	assert.Empty(t, c.Handle(ctx, "next"), "next at the last page is a no-op with no grammar change")
	assert.Equal(t, 2, c.Page())

	assert.Equal(t, []string{"Site 3", "Site 4", "previous", "next"}, c.Handle(ctx, "previous"))
	c.Handle(ctx, "previous")
	assert.Equal(t, 0, c.Page())
	assert.Empty(t, c.Handle(ctx, "previous"), "previous at page 0 is a no-op")
}

func TestPaginationOnlyValidInSelectSite(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, sixSites(), nil, 2)
	c.Handle(ctx, "menu")
	assert.Empty(t, c.Handle(ctx, "next"))
	assert.Equal(t, 0, c.Page())
	assert.Equal(t, StageMenu, c.Stage())
}

func TestSiteSelectionByLabelAndOrdinal(t *testing.T) {
	lookup := sites.Static{
		"r1": {Reference: "r1", Name: "Substation A"},
	}
	siteList := []Site{
		{Label: "Site 1", Reference: "r1", DisplayName: "A"},
		{Label: "Site 2", Reference: "r2", DisplayName: "B"},
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "trailing digit", token: "1"},
		{name: "ordinal word", token: "one"},
		{name: "exact label", token: "Site 1"},
		{name: "case insensitive label", token: "site 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			c, _ := newController(t, siteList, lookup, 2)
			vocab := c.Handle(ctx, tt.token)
			assert.Equal(t, []string{"back", "menu"}, vocab)
			assert.Equal(t, StageBasicInfo, c.Stage())
			assert.Equal(t, "r1", c.SelectedReference())
			require.NotNil(t, c.SelectedDetail())
			assert.Equal(t, "Substation A", c.SelectedDetail().Name)
		})
	}
}

func TestOrdinalOnlyMatchesVisiblePage(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, sixSites(), nil, 2)
	c.Handle(ctx, "next") // page 1: Site 3, Site 4
	assert.Empty(t, c.Handle(ctx, "1"), "ordinal for a site off the visible page must not match")
	assert.Equal(t, StageSelectSite, c.Stage())

	assert.Equal(t, []string{"back", "menu"}, c.Handle(ctx, "3"))
	assert.Equal(t, "r3", c.SelectedReference())
}

func TestMissingDetailStillTransitions(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, sixSites(), sites.Static{}, 2)
	assert.Equal(t, []string{"back", "menu"}, c.Handle(ctx, "Site 1"))
	assert.Equal(t, StageBasicInfo, c.Stage())
	assert.Nil(t, c.SelectedDetail(), "absent detail is not an error")
}

func TestMenuFromAnyStage(t *testing.T) {
	ctx := context.Background()
	entries := []struct {
		name  string
		steps []string
	}{
		{name: "from select site", steps: nil},
		{name: "from basic info", steps: []string{"Site 1"}},
		{name: "from menu itself", steps: []string{"menu"}},
		{name: "from flood trend", steps: []string{"menu", "flooding trend"}},
	}
	for _, tt := range entries {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newController(t, sixSites(), nil, 2)
			for _, step := range tt.steps {
				c.Handle(ctx, step)
			}
			assert.Equal(t, topMenu, c.Handle(ctx, "menu"))
			assert.Equal(t, StageMenu, c.Stage())
		})
	}
}

func TestMenuDisplayStages(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		token string
		stage Stage
	}{
		{token: "basic info", stage: StageBasicInfo},
		{token: "flooding trend", stage: StageFloodTrend},
		{token: "historical energy demand", stage: StageHistoricalEnergy},
		{token: "forecast energy demand", stage: StageForecastEnergy},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			c, _ := newController(t, sixSites(), nil, 2)
			c.Handle(ctx, "menu")
			assert.Equal(t, []string{"back", "menu"}, c.Handle(ctx, tt.token))
			assert.Equal(t, tt.stage, c.Stage())
		})
	}
}

func TestReselectSiteResetsState(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, sixSites(), nil, 2)
	c.Handle(ctx, "next")
	c.Handle(ctx, "3")
	require.Equal(t, "r3", c.SelectedReference())

	c.Handle(ctx, "menu")
	vocab := c.Handle(ctx, "reselect site")
	assert.Equal(t, []string{"Site 1", "Site 2", "menu"}, vocab)
	assert.Equal(t, StageSelectSite, c.Stage())
	assert.Equal(t, 0, c.Page())
	assert.Empty(t, c.SelectedReference())
	assert.Nil(t, c.SelectedDetail())
}

func TestBackClearsSelectionKeepsPage(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, sixSites(), nil, 2)
	c.Handle(ctx, "next")
	c.Handle(ctx, "3")

	vocab := c.Handle(ctx, "back")
	assert.Equal(t, []string{"Site 3", "Site 4", "menu"}, vocab)
	assert.Equal(t, StageSelectSite, c.Stage())
	assert.Equal(t, 1, c.Page())
	assert.Empty(t, c.SelectedReference())
}

func TestAcceptRejectDelegateOnce(t *testing.T) {
	ctx := context.Background()
	c, control := newController(t, sixSites(), nil, 2)
	c.Handle(ctx, "next")

	assert.Empty(t, c.Handle(ctx, "accept"))
	assert.Empty(t, c.Handle(ctx, "reject"))
	assert.Equal(t, 1, control.accepts)
	assert.Equal(t, 1, control.rejects)
	assert.Equal(t, StageSelectSite, c.Stage(), "call commands never change the stage")
	assert.Equal(t, 1, c.Page(), "call commands never change the page")
}

func TestUnrecognizedTokenIsNoop(t *testing.T) {
	ctx := context.Background()
	c, control := newController(t, sixSites(), nil, 2)
	for _, token := range []string{"", "bananas", "site 99", "seven"} {
		assert.Empty(t, c.Handle(ctx, token))
	}
	assert.Equal(t, StageSelectSite, c.Stage())
	assert.Equal(t, 0, control.accepts)
}

func TestEmptySiteList(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, nil, nil, 2)
	assert.Equal(t, []string{"menu"}, c.InitialVocabulary())
	assert.Empty(t, c.Handle(ctx, "next"))
	assert.Empty(t, c.Handle(ctx, "previous"))
	assert.Equal(t, 0, c.Page())
}

func TestInitialVocabulary(t *testing.T) {
	c, _ := newController(t, sixSites(), nil, 2)
	assert.Equal(t, []string{"Site 1", "Site 2", "menu"}, c.InitialVocabulary())
}
