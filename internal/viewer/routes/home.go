// internal/viewer/routes/home.go

package routes

import (
	"net/http"

	"github.com/petervdpas/livepad/internal/sitetemplates"
	"github.com/petervdpas/livepad/internal/viewer/render"
)

func baseVM(title, active, contentTmpl string, d Deps) render.BaseVM {
	return render.BaseVM{
		Title:       title,
		Active:      active,
		ContentTmpl: contentTmpl,
		BaseURL:     d.BaseURL,
		Version:     d.Version,
	}
}

func registerHomeRoutes(mux *http.ServeMux, d Deps) {
	// GET /, project index with the create form
	mux.Handle("GET /{$}", noCache(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows, err := listProjects(r.Context(), d)
		if err != nil {
			writeError(w, err)
			return
		}
		templates, err := sitetemplates.List()
		if err != nil {
			writeError(w, err)
			return
		}
		vm := render.HomeVM{
			BaseVM:    baseVM("Projects", "home", "page.home", d),
			Projects:  rows,
			Templates: templates,
			Default:   sitetemplates.Default,
		}
		if d.Plugins != nil {
			vm.Plugins = d.Plugins.Plugins()
		}
		render.Render(w, vm)
	})))
}
