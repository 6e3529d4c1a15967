package web

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/modelci/modelci/internal/config"
	"github.com/modelci/modelci/internal/controllers"
	"github.com/modelci/modelci/internal/engine"
	"github.com/modelci/modelci/pkg/modelci/domain"
	"github.com/modelci/modelci/pkg/modelci/models"
)

type WebController struct {
	controllers.AuthController
	manager  *engine.FlowManager
	userRepo engine.UserRepo
}

func NewWebController(manager *engine.FlowManager, userRepo engine.UserRepo) *WebController {
	return &WebController{manager: manager, userRepo: userRepo, AuthController: controllers.AuthController{
		UserRepo: userRepo,
	}}
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

func (wc *WebController) render(w http.ResponseWriter, page string, data any) {
	tmpl, err := template.New("").Funcs(template.FuncMap{"hasPrefix": hasPrefix}).ParseFS(
		templatesFS,
		"templates/fragments/header.html",
		"templates/fragments/nav.html",
		"templates/"+page+".html")
	if err != nil {
		slog.Error("Failed to parse template", "page", page, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := tmpl.ExecuteTemplate(w, page, data); err != nil {
		slog.Error("Failed to execute template", "page", page, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (wc *WebController) homeHandler(w http.ResponseWriter, r *http.Request) {
	overview, err := wc.manager.Overview()
	if err != nil {
		slog.Error("Failed to load overview", "error", err)
		http.Error(w, "Failed to load", http.StatusInternalServerError)
		return
	}
	wc.render(w, "home", map[string]any{
		"Title":       "Dashboard",
		"CurrentPath": r.URL.Path,
		"Overview":    overview,
	})
}

type runRow struct {
	ID             int64
	FlowType       string
	ConcurrencyKey string
	Status         string
	State          string
	NextActivation string
	Created        string
}

func (wc *WebController) runsHandler(w http.ResponseWriter, r *http.Request) {
	req := models.SearchRunRequest{
		Status:   strings.TrimSpace(r.URL.Query().Get("status")),
		FlowType: strings.TrimSpace(r.URL.Query().Get("flowType")),
		Limit:    100,
	}
	results, err := wc.manager.SearchRuns(req)
	if err != nil {
		slog.Error("Failed to search runs", "error", err)
		http.Error(w, "Failed to load", http.StatusInternalServerError)
		return
	}

	var rows []runRow
	if results != nil {
		for _, run := range *results {
			row := runRow{
				ID:             run.ID,
				FlowType:       run.FlowType,
				ConcurrencyKey: run.ConcurrencyKey,
				Status:         run.Status,
				State:          run.State,
				Created:        run.Created.Format(time.RFC3339),
			}
			if run.NextActivation.Valid {
				row.NextActivation = run.NextActivation.Time.Format(time.RFC3339)
			}
			rows = append(rows, row)
		}
	}
	wc.render(w, "runs", map[string]any{
		"Title":       "Runs",
		"CurrentPath": r.URL.Path,
		"Runs":        rows,
		"Status":      req.Status,
		"FlowType":    req.FlowType,
	})
}

func (wc *WebController) runDetailsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	run, err := wc.manager.RunRepo.FindByID(id)
	if err != nil || run == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	actions, err := wc.manager.RunActionRepo.FindAllByRunID(id)
	if err != nil {
		slog.Error("Failed to load run actions", "error", err)
		http.Error(w, "Failed to load", http.StatusInternalServerError)
		return
	}

	stateVars := ""
	if run.StateVars.Valid && run.StateVars.String != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(run.StateVars.String), &parsed); err == nil {
			pretty, _ := json.MarshalIndent(parsed, "", "  ")
			stateVars = string(pretty)
		} else {
			stateVars = run.StateVars.String
		}
	}

	canCancel := run.Status != domain.StatusFinished &&
		run.Status != domain.StatusFailed &&
		run.Status != domain.StatusCancelled
	data := map[string]any{
		"Title":       "Run Details",
		"CurrentPath": "/runs",
		"Run":         run,
		"StateVars":   stateVars,
		"CanCancel":   canCancel,
	}
	if actions != nil {
		data["Actions"] = *actions
	}
	wc.render(w, "run_details", data)
}

func (wc *WebController) cancelRunHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	wc.manager.CancelRun(id, "Cancelled via web UI")
	http.Redirect(w, r, "/details/"+r.PathValue("id"), http.StatusSeeOther)
}

func (wc *WebController) runnersHandler(w http.ResponseWriter, r *http.Request) {
	runners, err := wc.manager.ListRunners(20)
	if err != nil {
		slog.Error("Failed to list runners", "error", err)
		http.Error(w, "Failed to load", http.StatusInternalServerError)
		return
	}
	wc.render(w, "runners", map[string]any{
		"Title":       "Runners",
		"CurrentPath": r.URL.Path,
		"Runners":     runners,
	})
}

func (wc *WebController) renderLogin(w http.ResponseWriter, data map[string]any) {
	tmpl, err := template.ParseFS(templatesFS, "templates/login.html")
	if err != nil {
		slog.Error("Failed to parse login template", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := tmpl.ExecuteTemplate(w, "login", data); err != nil {
		slog.Error("Failed to execute login template", "error", err)
	}
}

func (wc *WebController) loginPageHandler(w http.ResponseWriter, r *http.Request) {
	wc.renderLogin(w, map[string]any{"Title": "Login"})
}

func (wc *WebController) loginSubmitHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		wc.renderLogin(w, map[string]any{"Error": "Invalid form"})
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	if username == "" || password == "" {
		w.WriteHeader(http.StatusUnauthorized)
		wc.renderLogin(w, map[string]any{"Error": "Username and password are required"})
		return
	}
	u, err := wc.userRepo.FindByUsername(username)
	if err != nil {
		slog.Error("FindByUsername failed", "error", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	if u == nil {
		w.WriteHeader(http.StatusUnauthorized)
		wc.renderLogin(w, map[string]any{"Error": "Invalid username or password"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		wc.renderLogin(w, map[string]any{"Error": "Invalid username or password"})
		return
	}
	// Generate session id
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		slog.Error("rand.Read failed", "error", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	sessionID := hex.EncodeToString(buf)
	expiryHours := config.GetSystemSettingInteger(config.WEB_SESSION_EXPIRY_HOURS)
	expires := time.Now().Add(time.Duration(expiryHours) * time.Hour)
	if err := wc.userRepo.UpdateSession(u.ID, sessionID, expires); err != nil {
		slog.Error("UpdateSession failed", "error", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "sessionId",
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// logoutHandler clears the current user's session and redirects to the login page.
func (wc *WebController) logoutHandler(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie("sessionId")
	if err == nil && c.Value != "" {
		// Best-effort clear in DB
		if err := wc.userRepo.ClearSessionBySessionID(c.Value); err != nil {
			slog.Warn("Failed to clear session in DB during logout", "error", err)
		}
		http.SetCookie(w, &http.Cookie{
			Name:     "sessionId",
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			MaxAge:   -1,
		})
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
