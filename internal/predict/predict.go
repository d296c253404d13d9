// internal/predict/predict.go
package predict

import (
	"log"
	"path"
	"sort"
	"strings"

	"rewind/internal/projectpath"
)

// Kind is the file operation a command is expected to perform.
type Kind string

const (
	KindCreate Kind = "create"
	KindModify Kind = "modify"
	KindDelete Kind = "delete"
	KindMove   Kind = "move"
	KindCopy   Kind = "copy"
	KindRename Kind = "rename"
)

// Prediction is a best-effort guess that a shell command touches Path.
// Destination is set for moves.
type Prediction struct {
	Kind        Kind    `json:"kind"`
	Path        string  `json:"path"`
	Destination string  `json:"destination,omitempty"`
	Confidence  float64 `json:"confidence"`
	Rule        string  `json:"rule"`
}

var logf = log.Printf

// Predictor statically guesses the file effects of shell commands. It never
// executes anything and never fails: commands it cannot understand simply
// yield no predictions. Targets hidden behind variables, globs or command
// substitution are invisible to it.
type Predictor struct {
	rules []rule
}

// New returns a Predictor using the built-in rule table.
func New() *Predictor {
	return &Predictor{rules: compileRules(defaultRules)}
}

var defaultPredictor = New()

// Predict runs the default Predictor.
func Predict(command, projectRoot string) []Prediction {
	return defaultPredictor.Predict(command, projectRoot)
}

// Predict returns deduplicated predictions for command, highest confidence
// first. Paths are project-relative; anything outside projectRoot is dropped.
func (p *Predictor) Predict(command, projectRoot string) []Prediction {
	root := projectpath.Lexical(projectRoot)
	cwd := ""

	var found []Prediction
	index := make(map[string]int)
	add := func(kind Kind, raw, dest string, confidence float64, ruleName string) {
		rel, ok := resolve(root, cwd, raw)
		if !ok {
			return
		}
		var destRel string
		if dest != "" {
			if destRel, ok = resolve(root, cwd, dest); !ok {
				destRel = ""
			}
		}

		key := string(kind) + "\x00" + rel
		if i, seen := index[key]; seen {
			if confidence > found[i].Confidence {
				found[i].Confidence = confidence
				found[i].Rule = ruleName
			}
			return
		}
		index[key] = len(found)
		found = append(found, Prediction{
			Kind:        kind,
			Path:        rel,
			Destination: destRel,
			Confidence:  confidence,
			Rule:        ruleName,
		})
	}

	for _, seg := range splitSegments(lex(StripComments(command))) {
		words := commandWords(seg.words)

		if len(words) > 0 && words[0] == "cd" {
			cwd = changeDir(root, cwd, words[1:])
			continue
		}

		for _, r := range seg.redirects {
			kind, confidence, name := redirectKind(r, words, seg.heredoc)
			if kind == "" {
				continue
			}
			add(kind, r.target, "", confidence, name)
		}

		if len(words) == 0 {
			continue
		}
		line := strings.Join(words, " ")
		for _, r := range p.rules {
			if !r.re.MatchString(line) || len(words) < r.skip {
				continue
			}
			for _, t := range r.extract(words[r.skip:]) {
				kind := r.kind
				if t.kind != "" {
					kind = t.kind
				}
				add(kind, t.path, t.dest, r.confidence, r.name)
			}
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Confidence > found[j].Confidence
	})
	return found
}

func redirectKind(r redirect, words []string, heredoc bool) (Kind, float64, string) {
	if r.op == ">&" && (isDigits(r.target) || r.target == "-") {
		return "", 0, ""
	}
	if r.op == ">>" {
		return KindModify, 0.85, "append-redirect"
	}
	if heredoc || (len(words) > 0 && (words[0] == "cat" || words[0] == "printf")) {
		return KindCreate, 0.95, "write-redirect"
	}
	return KindCreate, 0.90, "redirect"
}

// commandWords drops leading environment assignments and wrappers such as
// sudo so rules see the real command first.
func commandWords(words []string) []string {
	for len(words) > 0 {
		w := words[0]
		switch {
		case isAssignment(w):
			words = words[1:]
		case w == "sudo" || w == "env" || w == "command" || w == "nohup" || w == "time" || w == "exec":
			words = words[1:]
			for len(words) > 0 && strings.HasPrefix(words[0], "-") {
				words = words[1:]
			}
		default:
			return words
		}
	}
	return words
}

func isAssignment(word string) bool {
	name, _, ok := strings.Cut(word, "=")
	if !ok || name == "" {
		return false
	}
	for i, c := range name {
		if c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (i > 0 && c >= '0' && c <= '9') {
			continue
		}
		return false
	}
	return true
}

func changeDir(root projectpath.Root, cwd string, args []string) string {
	if len(args) != 1 || unresolvable(args[0]) {
		return cwd
	}
	dir := args[0]
	if strings.HasPrefix(dir, "/") {
		rel, err := root.Rel(dir)
		if err != nil {
			return cwd
		}
		return rel
	}
	joined := path.Clean(path.Join(cwd, dir))
	if joined == "." {
		return ""
	}
	return joined
}

func resolve(root projectpath.Root, cwd, raw string) (string, bool) {
	if unresolvable(raw) {
		return "", false
	}
	if !strings.HasPrefix(raw, "/") && cwd != "" {
		raw = path.Join(cwd, raw)
	}
	rel, err := root.Rel(raw)
	if err != nil {
		return "", false
	}
	return rel, true
}

// unresolvable reports targets that cannot be resolved statically: globs,
// parameter expansion, command substitution and home-relative paths.
func unresolvable(p string) bool {
	return p == "" || p == "-" || strings.ContainsAny(p, "*?[$`") || strings.HasPrefix(p, "~")
}
