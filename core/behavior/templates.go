package behavior

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

func templateBase(templateName, templatetext string) (*template.Template, error) {
	return template.New(templateName).Funcs(sprig.TxtFuncMap()).Parse(templatetext)
}

func templateExecute(t *template.Template, data any) (string, error) {
	buf := bytes.NewBuffer([]byte{})
	if err := t.Execute(buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func parseAll(name string, texts []string) ([]*template.Template, error) {
	templates := make([]*template.Template, 0, len(texts))
	for i, text := range texts {
		t, err := templateBase(fmt.Sprintf("%s-%d", name, i), text)
		if err != nil {
			return nil, fmt.Errorf("invalid %s template %q: %w", name, text, err)
		}
		templates = append(templates, t)
	}
	return templates, nil
}
