// Package testapp serves the fixture application sessions are tested against.
package testapp

import (
	"embed"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

//go:embed views/*.html
var views embed.FS

// New returns the fixture application.
func New() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		render(w, "index")
	})
	for _, page := range []string{"foo", "with_html", "with_simple_html", "landed"} {
		page := page
		mux.HandleFunc("/"+page, func(w http.ResponseWriter, r *http.Request) {
			render(w, page)
		})
	}
	mux.HandleFunc("/form", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			render(w, "form")
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		results(w, r.PostForm)
	})
	mux.HandleFunc("/form/get", func(w http.ResponseWriter, r *http.Request) {
		results(w, r.URL.Query())
	})
	mux.HandleFunc("/upload", upload)
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/redirect_again", http.StatusFound)
	})
	mux.HandleFunc("/redirect_again", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/landed", http.StatusFound)
	})
	mux.HandleFunc("/redirect_loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/redirect_loop", http.StatusFound)
	})
	return mux
}

func render(w http.ResponseWriter, page string) {
	b, err := views.ReadFile("views/" + page + ".html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}

// results renders the submitted params as YAML inside <pre id="results">.
// Repeated names become lists.
func results(w http.ResponseWriter, params url.Values) {
	out := make(map[string]any, len(params))
	for k, vs := range params {
		if len(vs) == 1 {
			out[k] = vs[0]
		} else {
			out[k] = vs
		}
	}
	b, err := yaml.Marshal(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><head><title>Results</title></head><body><pre id=\"results\">%s</pre></body></html>",
		html.EscapeString(string(b)))
}

func upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	names := make([]string, 0, len(r.MultipartForm.File))
	for name := range r.MultipartForm.File {
		names = append(names, name)
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><head><title>Upload</title></head><body>")
	for _, name := range names {
		for _, fh := range r.MultipartForm.File[name] {
			f, err := fh.Open()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			content, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			fmt.Fprintf(w, "<h2>%s</h2><p class=\"filename\">%s</p><pre class=\"content\">%s</pre>",
				html.EscapeString(name), html.EscapeString(fh.Filename), html.EscapeString(string(content)))
		}
	}
	fmt.Fprint(w, "</body></html>")
}

// ParseResults decodes the YAML rendered by the results page in body.
// Scalars are returned as one element lists.
func ParseResults(body string) (map[string][]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing results page: %w", err)
	}
	pre := doc.Find("pre#results")
	if pre.Length() == 0 {
		return nil, fmt.Errorf("no results in page: %.200q", body)
	}
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(pre.Text()), &raw); err != nil {
		return nil, fmt.Errorf("decoding results: %w", err)
	}
	out := make(map[string][]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case []any:
			for _, e := range v {
				out[k] = append(out[k], fmt.Sprint(e))
			}
		case nil:
			out[k] = []string{""}
		default:
			out[k] = []string{fmt.Sprint(v)}
		}
	}
	return out, nil
}
