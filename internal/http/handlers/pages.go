package handlers

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"archivision/internal/domain"
	"archivision/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const maxFormBody = 64 << 10

type imageCard struct {
	Index    int
	Caption  string
	Selected bool
}

type selectedImage struct {
	Caption  string
	DataURI  template.URL
	Filename string
}

type pageData struct {
	Session   *session.Session
	Images    []imageCard
	Missing   []string
	Selected  *selectedImage
	Error     string
	Notice    string
	CanSelect bool
	CanEdit   bool
	History   []string
}

// Index renders the form and whatever the session currently holds. It never
// changes the session.
func (a *App) Index(w http.ResponseWriter, r *http.Request) {
	s, err := a.Flow.Snapshot(r.Context(), sessionID(r))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	a.render(w, r, http.StatusOK, s, "")
}

func (a *App) SubmitForm(w http.ResponseWriter, r *http.Request) {
	params, err := parseDesignForm(w, r)
	if err != nil {
		a.renderActionError(w, r, err)
		return
	}
	a.afterAction(w, r, func() error {
		_, err := a.Flow.Submit(r.Context(), sessionID(r), params)
		return err
	})
}

func (a *App) SelectForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBody)
	index, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("index")))
	if err != nil {
		a.renderActionError(w, r, domain.ErrNoSuchImage)
		return
	}
	a.afterAction(w, r, func() error {
		_, err := a.Flow.Select(r.Context(), sessionID(r), index)
		return err
	})
}

func (a *App) RegenerateForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBody)
	text := r.PostFormValue("prompt")
	a.afterAction(w, r, func() error {
		_, err := a.Flow.Regenerate(r.Context(), sessionID(r), text)
		return err
	})
}

func (a *App) ResetForm(w http.ResponseWriter, r *http.Request) {
	a.afterAction(w, r, func() error {
		return a.Flow.End(r.Context(), sessionID(r))
	})
}

// Image serves one image of the current batch as PNG.
func (a *App) Image(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	s, err := a.Flow.Snapshot(r.Context(), sessionID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	img, ok := s.Batch.Image(index)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(img.PNG)))
	_, _ = w.Write(img.PNG)
}

// afterAction redirects back to the page. Provider failures are kept on the
// session and shown after the redirect; user errors are rendered directly.
func (a *App) afterAction(w http.ResponseWriter, r *http.Request, action func() error) {
	err := action()
	if err == nil || domain.IsKind(err, domain.KindGeneration) || domain.IsKind(err, domain.KindImageService) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	a.renderActionError(w, r, err)
}

func (a *App) renderActionError(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := classify(err)
	if status >= http.StatusInternalServerError {
		a.renderError(w, r, err)
		return
	}
	s, snapErr := a.Flow.Snapshot(r.Context(), sessionID(r))
	if snapErr != nil {
		a.renderError(w, r, snapErr)
		return
	}
	a.render(w, r, status, s, userFacing(err))
}

func (a *App) renderError(w http.ResponseWriter, r *http.Request, err error) {
	a.Logger.Error().Err(err).Str("session_id", sessionID(r)).Msg("http: page failed")
	http.Error(w, "Something went wrong. Please reload the page.", http.StatusInternalServerError)
}

func (a *App) render(w http.ResponseWriter, r *http.Request, status int, s *session.Session, actionErr string) {
	data := pageData{
		Session:   s,
		Error:     s.LastError,
		Notice:    s.Notice,
		CanSelect: s.State == session.StateBatchReady || s.State == session.StateSelected,
		CanEdit:   s.State == session.StateSelected || s.State == session.StateEditing || (s.State == session.StateFailed && s.HasPrompt()),
		History:   s.PromptHistory,
	}
	if actionErr != "" {
		data.Error = actionErr
	}
	if s.Batch != nil {
		for _, img := range s.Batch.Images {
			data.Images = append(data.Images, imageCard{
				Index:    img.Index,
				Caption:  caption(s.Batch.Origin, img.Index),
				Selected: s.Selection != nil && *s.Selection == img.Index,
			})
		}
		for _, f := range s.Batch.Failures {
			data.Missing = append(data.Missing, caption(s.Batch.Origin, f.Index))
		}
	}
	if img, ok := s.SelectedImage(); ok {
		data.Selected = &selectedImage{
			Caption:  "Selected image",
			DataURI:  template.URL(dataURI(img.PNG)),
			Filename: downloadName(s),
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := a.page.ExecuteTemplate(w, "index.html", data); err != nil {
		a.Logger.Error().Err(err).Str("session_id", sessionID(r)).Msg("http: render page")
	}
}

func userFacing(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidParameters):
		return "Please check the room dimensions: they must be non-negative numbers."
	case errors.Is(err, domain.ErrEmptyPrompt):
		return "The prompt cannot be empty."
	case errors.Is(err, domain.ErrNoSuchImage):
		return "That image is not available."
	case errors.Is(err, domain.ErrInvalidTransition):
		return "That action is not available right now."
	}
	return err.Error()
}

var designFields = []string{
	"room_type", "style", "colors", "ambiance", "furniture", "lighting",
	"decor", "special_function", "view", "constraints",
}

// parseDesignForm reads the questionnaire. Blank dimensions are zero.
func parseDesignForm(w http.ResponseWriter, r *http.Request) (domain.DesignParameters, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBody)
	if err := r.ParseForm(); err != nil {
		return domain.DesignParameters{}, domain.ErrInvalidParameters
	}
	text := make(map[string]string, len(designFields))
	for _, f := range designFields {
		text[f] = r.PostForm.Get(f)
	}
	p := domain.DesignParameters{
		RoomType:        text["room_type"],
		Style:           text["style"],
		Colors:          text["colors"],
		Ambiance:        text["ambiance"],
		Furniture:       text["furniture"],
		Lighting:        text["lighting"],
		Decor:           text["decor"],
		SpecialFunction: text["special_function"],
		View:            text["view"],
		Constraints:     text["constraints"],
	}
	var err error
	if p.Length, err = formFloat(r, "length"); err != nil {
		return p, err
	}
	if p.Width, err = formFloat(r, "width"); err != nil {
		return p, err
	}
	if p.CeilingHeight, err = formFloat(r, "ceiling_height"); err != nil {
		return p, err
	}
	return p, nil
}

func formFloat(r *http.Request, name string) (float64, error) {
	v := strings.TrimSpace(r.PostForm.Get(name))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
	if err != nil {
		return 0, domain.ErrInvalidParameters
	}
	return f, nil
}
