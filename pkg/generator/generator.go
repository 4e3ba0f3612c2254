package generator

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/appfoundry/publisher/pkg/task"
)

// SiteGenerator turns a task brief into a deployable static site inside a
// workspace directory. When an OpenAI client is configured it is asked first;
// any failure there falls back to the placeholder site so a build attempt is
// never lost to the LLM being unavailable.
type SiteGenerator struct {
	llm *OpenAIClient
}

// New returns a generator. llm may be nil for placeholder-only generation.
func New(llm *OpenAIClient) *SiteGenerator {
	return &SiteGenerator{llm: llm}
}

// Generate writes the site for the request into dir.
func (g *SiteGenerator) Generate(ctx context.Context, req task.Request, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	var files map[string]string
	if g.llm != nil {
		generated, err := g.llm.GenerateFiles(ctx, req.Brief, req.Attachments)
		if err != nil {
			log.Printf("llm generation failed, using placeholder site: %v", err)
		} else {
			files = generated
		}
	}

	if len(files) > 0 {
		if err := writeFileMap(dir, files); err != nil {
			return err
		}
	} else {
		if err := writePlaceholderIndex(dir, req.Brief); err != nil {
			return err
		}
	}

	if err := writeAssets(dir, req.Attachments); err != nil {
		return err
	}
	if err := writeReadme(dir, req.Brief); err != nil {
		return err
	}
	return writeLicense(dir)
}

func writeFileMap(dir string, files map[string]string) error {
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

const indexTemplate = `<!doctype html>
<html>
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width,initial-scale=1" />
    <title>Student App</title>
    <style>body{font-family:sans-serif;padding:1rem}#output{white-space:pre-wrap}</style>
</head>
<body>
    <h1>Student App</h1>
    <p id="brief">{BRIEF}</p>
    <div id="output">Loading...</div>

    <script>
    function getParam(name){const u=new URL(location.href);return u.searchParams.get(name)}
    const url = getParam('url');
    const out = document.getElementById('output');
    if(url){
        out.textContent = 'Provided URL: ' + url;
        const img = document.createElement('img'); img.src = url; img.style.maxWidth='90%'; img.alt='provided';
        out.innerHTML=''; out.appendChild(img);
    } else {
        out.textContent = 'No URL provided - using attachment if present.';
    }
    </script>
</body>
</html>
`

func writePlaceholderIndex(dir, brief string) error {
	content := strings.ReplaceAll(indexTemplate, "{BRIEF}", brief)
	return os.WriteFile(filepath.Join(dir, "index.html"), []byte(content), 0o644)
}

// writeAssets extracts data-URI attachments into assets/. Attachments with
// remote URLs are left for the generated page to reference directly.
func writeAssets(dir string, attachments []task.Attachment) error {
	assetsDir := filepath.Join(dir, "assets")
	if err := os.MkdirAll(assetsDir, 0o755); err != nil {
		return fmt.Errorf("create assets dir: %w", err)
	}

	for _, a := range attachments {
		if a.Name == "" || !strings.HasPrefix(a.URL, "data:") {
			continue
		}
		comma := strings.Index(a.URL, ",")
		if comma == -1 {
			continue
		}
		payload := a.URL[comma+1:]
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data = []byte(payload)
		}
		if err := os.WriteFile(filepath.Join(assetsDir, filepath.Base(a.Name)), data, 0o644); err != nil {
			return fmt.Errorf("write asset %s: %w", a.Name, err)
		}
	}
	return nil
}

func writeReadme(dir, brief string) error {
	readme := fmt.Sprintf(`# Student-generated app

Generated from brief:

`+"```"+`
%s
`+"```"+`

Generated at %s UTC.

License: MIT
`, brief, time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dir, "README.md"), []byte(readme), 0o644)
}

func writeLicense(dir string) error {
	license := fmt.Sprintf(`MIT License

Copyright (c) %d

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
`, time.Now().UTC().Year())
	return os.WriteFile(filepath.Join(dir, "LICENSE"), []byte(license), 0o644)
}
