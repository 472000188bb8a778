// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package logging builds the logrus logger behind reups's repeatable
// -v/--verbose flag: 0=warn, 1=info, 2=debug, >=3=trace.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// LevelForVerbosity maps a repeated -v count to a logrus level:
// 0->warn, 1->info, 2->debug, >=3->trace.
func LevelForVerbosity(count int) logrus.Level {
	switch {
	case count <= 0:
		return logrus.WarnLevel
	case count == 1:
		return logrus.InfoLevel
	case count == 2:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// New builds the process-wide logger. format
// selects between the pretty text formatter used on an interactive
// terminal and logrus's JSON formatter for machine consumption.
func New(verboseCount int, format string) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(LevelForVerbosity(verboseCount))
	l.SetFormatter(GetFormatter(format, ""))
	return l
}

// GetFormatter returns the formatter named by format ("text", "json",
// "json-pretty"), defaulting to JSON.
func GetFormatter(format, timestampFormat string) logrus.Formatter {
	switch format {
	case "text":
		return &prettyFormatter{}
	case "json-pretty":
		return &logrus.JSONFormatter{PrettyPrint: true, TimestampFormat: timestampFormat}
	default:
		return &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	}
}

// prettyFormatter is a simpler, easier-to-read alternative to logrus's
// default TextFormatter: a one-line `[LEVEL] message` header followed by
// one indented `key = value` line per field, used for activation and
// declare diagnostics (backend ids, product/version pairs, tie-break
// warnings) printed to stderr during interactive use.
type prettyFormatter struct{}

func isJSON(buf []byte) bool {
	var tmp interface{}
	return json.Unmarshal(buf, &tmp) == nil
}

func spaces(n int) string {
	return strings.Repeat(" ", n)
}

const (
	fieldIndent     = 2
	multiLineIndent = 6
)

func (p *prettyFormatter) Format(e *logrus.Entry) ([]byte, error) {
	b := new(bytes.Buffer)

	level := strings.ToUpper(e.Level.String())
	fmt.Fprintf(b, "[%s] %s\n", level, e.Message)

	for k, v := range e.Data {
		stringVal, err := p.renderField(v)
		if err != nil {
			return nil, err
		}

		b.WriteString(spaces(fieldIndent))
		b.WriteString(k)
		if strings.Contains(stringVal, "\n") {
			b.WriteString(" = |\n")
			b.WriteString(spaces(multiLineIndent))
		} else {
			b.WriteString(" = ")
		}
		b.WriteString(stringVal)
		b.WriteString("\n")
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// renderField turns one entry field into its printed form: a multi-line
// string (e.g. a table-file body attached to a parse-failure log entry)
// is kept verbatim but re-indented; a string that already looks like JSON
// is pretty-printed in place; anything else is JSON-marshaled.
func (p *prettyFormatter) renderField(v interface{}) (string, error) {
	stringVal, isString := v.(string)
	switch {
	case isString && strings.Contains(stringVal, "\n"):
		var sb strings.Builder
		for i, line := range strings.Split(stringVal, "\n") {
			if i != 0 {
				sb.WriteString(spaces(multiLineIndent))
			}
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		return sb.String(), nil
	case isString && isJSON([]byte(stringVal)):
		var tmp bytes.Buffer
		if err := json.Indent(&tmp, []byte(stringVal), spaces(multiLineIndent), spaces(2)); err != nil {
			return "", err
		}
		return tmp.String(), nil
	default:
		jsonVal, err := json.MarshalIndent(v, spaces(multiLineIndent), spaces(2))
		if err != nil {
			return "", err
		}
		return string(jsonVal), nil
	}
}
