package web

import (
	"net/http"
)

func (wc *WebController) RegisterRoutes(mux *http.ServeMux) {

	// Public routes
	mux.HandleFunc("GET /login", wc.loginPageHandler)
	mux.HandleFunc("POST /login", wc.loginSubmitHandler)

	// Protected routes
	mux.HandleFunc("/", wc.RequireAuth(wc.homeHandler))
	mux.HandleFunc("POST /logout", wc.RequireAuth(wc.logoutHandler))
	mux.HandleFunc("GET /runs", wc.RequireAuth(wc.runsHandler))
	mux.HandleFunc("GET /details/{id}", wc.RequireAuth(wc.runDetailsHandler))
	mux.HandleFunc("POST /details/{id}/cancel", wc.RequireAuth(wc.cancelRunHandler))
	mux.HandleFunc("GET /runners", wc.RequireAuth(wc.runnersHandler))
}
