package notifier

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

//go:embed templates/*
var templateFS embed.FS

type renderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

// renderEmail executes templates/<name>_subject.txt, <name>.html and <name>.txt
func renderEmail(name string, data interface{}) (*renderedEmail, error) {
	subject, err := renderFile(name+"_subject.txt", data, false)
	if err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	html, err := renderFile(name+".html", data, true)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	text, err := renderFile(name+".txt", data, false)
	if err != nil {
		return nil, fmt.Errorf("render text: %w", err)
	}
	return &renderedEmail{Subject: strings.TrimSpace(subject), HTML: html, Text: text}, nil
}

func renderFile(name string, data interface{}, html bool) (string, error) {
	raw, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if html {
		t, err := htmltemplate.New(name).Parse(string(raw))
		if err != nil {
			return "", err
		}
		if err := t.Execute(&buf, data); err != nil {
			return "", err
		}
		return buf.String(), nil
	}

	t, err := texttemplate.New(name).Parse(string(raw))
	if err != nil {
		return "", err
	}
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
