package render

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHome(t *testing.T) {
	rec := httptest.NewRecorder()
	Render(rec, HomeVM{
		BaseVM: BaseVM{Title: "Projects", Active: "home", ContentTmpl: "page.home", Version: "1.0"},
		Projects: []ProjectRow{
			{ID: "b", Seq: 3, Pending: 2, Modified: time.Now()},
			{ID: "<a>", Open: true},
		},
	})
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>Projects · livepad</title>")
	assert.Contains(t, body, `class="active"`)
	assert.Contains(t, body, "+2")
	assert.Contains(t, body, "just now")
	assert.Contains(t, body, "&lt;a&gt;", "ids are escaped")
}

func TestRenderUnknownContent(t *testing.T) {
	rec := httptest.NewRecorder()
	Render(rec, HomeVM{BaseVM: BaseVM{ContentTmpl: "page.missing"}})
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `<pre class="err">`)
}

func TestRenderShell(t *testing.T) {
	rec := httptest.NewRecorder()
	RenderStandalone(rec, "shell", ShellVM{Project: "demo", Entry: "index.html", Src: "http://x/blob/1"})
	assert.Contains(t, rec.Body.String(), `src="http://x/blob/1"`)
	assert.Contains(t, rec.Body.String(), `data-entry="index.html"`)

	rec = httptest.NewRecorder()
	RenderStandalone(rec, "nope", nil)
	assert.Equal(t, 500, rec.Code)
}

func TestAgo(t *testing.T) {
	assert.Equal(t, "", ago(time.Time{}))
	assert.Equal(t, "5m ago", ago(time.Now().Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "2h ago", ago(time.Now().Add(-2*time.Hour-time.Minute)))
}
