// internal/predict/rules.go
package predict

import (
	"path"
	"regexp"
	"strings"
)

// target is a path an extractor pulled out of a command's arguments.
// kind overrides the rule's kind when set.
type target struct {
	path string
	dest string
	kind Kind
}

type ruleSpec struct {
	name       string
	pattern    string
	kind       Kind
	confidence float64
	extract    func(args []string) []target
	// skip is the number of leading words (command plus subcommand) that are
	// not arguments.
	skip int
}

type rule struct {
	ruleSpec
	re *regexp.Regexp
}

// defaultRules is evaluated in order against every simple command. Patterns
// are matched against the command's words joined by single spaces.
var defaultRules = []ruleSpec{
	{name: "sed-in-place", pattern: `^sed\s(?:.*\s)?(?:-[A-Za-z]*i\S*|--in-place\S*)(?:\s|$)`, kind: KindModify, confidence: 0.95, extract: sedFiles, skip: 1},
	{name: "perl-in-place", pattern: `^perl\s(?:.*\s)?-[A-Za-z]*i\S*(?:\s|$)`, kind: KindModify, confidence: 0.90, extract: perlFiles, skip: 1},
	{name: "truncate", pattern: `^truncate(?:\s|$)`, kind: KindModify, confidence: 0.85, extract: operandsWith("-s", "-r", "--size", "--reference"), skip: 1},
	{name: "touch", pattern: `^touch(?:\s|$)`, kind: KindCreate, confidence: 0.90, extract: operandsWith("-d", "-t", "-r", "--date", "--reference"), skip: 1},
	{name: "tee", pattern: `^tee(?:\s|$)`, kind: KindCreate, confidence: 0.85, extract: teeFiles, skip: 1},
	{name: "rm", pattern: `^rm(?:\s|$)`, kind: KindDelete, confidence: 0.98, extract: operandsWith(), skip: 1},
	{name: "unlink", pattern: `^unlink(?:\s|$)`, kind: KindDelete, confidence: 0.95, extract: operandsWith(), skip: 1},
	{name: "git-rm", pattern: `^git\s+rm(?:\s|$)`, kind: KindDelete, confidence: 0.92, extract: gitRmFiles, skip: 2},
	{name: "rmdir", pattern: `^rmdir(?:\s|$)`, kind: KindDelete, confidence: 0.90, extract: operandsWith(), skip: 1},
	{name: "mv", pattern: `^mv(?:\s|$)`, kind: KindMove, confidence: 0.90, extract: transfers("-t", "--target-directory", "-S", "--suffix"), skip: 1},
	{name: "git-mv", pattern: `^git\s+mv(?:\s|$)`, kind: KindMove, confidence: 0.90, extract: transfers(), skip: 2},
	{name: "cp", pattern: `^cp(?:\s|$)`, kind: KindCopy, confidence: 0.90, extract: copies, skip: 1},
	{name: "ln", pattern: `^ln(?:\s|$)`, kind: KindCreate, confidence: 0.80, extract: links, skip: 1},
	{name: "git-checkout-files", pattern: `^git\s+checkout\s(?:.*\s)?--(?:\s|$)`, kind: KindModify, confidence: 0.75, extract: afterDoubleDash, skip: 2},
	{name: "git-restore", pattern: `^git\s+restore(?:\s|$)`, kind: KindModify, confidence: 0.75, extract: gitRestoreFiles, skip: 2},
	{name: "mkdir", pattern: `^mkdir(?:\s|$)`, kind: KindCreate, confidence: 0.70, extract: operandsWith("-m", "--mode"), skip: 1},
	{name: "tar-extract", pattern: `^tar\s(?:.*\s)?(?:-?[A-Za-z]*x[A-Za-z]*|--extract)(?:\s|$)`, kind: KindCreate, confidence: 0.70, extract: valueOf("-C", "--directory"), skip: 1},
	{name: "unzip", pattern: `^unzip\s(?:.*\s)?-d(?:\s|$)`, kind: KindCreate, confidence: 0.70, extract: valueOf("-d"), skip: 1},
	{name: "editor", pattern: `^(?:vi|vim|nvim|nano|emacs|pico|micro)(?:\s|$)`, kind: KindModify, confidence: 0.60, extract: editorFiles, skip: 1},
}

func compileRules(specs []ruleSpec) []rule {
	rules := make([]rule, 0, len(specs))
	for _, spec := range specs {
		if spec.pattern == "" || spec.extract == nil {
			continue
		}
		re, err := regexp.Compile(spec.pattern)
		if err != nil {
			logf("[Predictor] Skipping rule %s: %v", spec.name, err)
			continue
		}
		rules = append(rules, rule{ruleSpec: spec, re: re})
	}
	return rules
}

// splitOptions separates option words from operands. Options listed in
// valued consume the following word. Everything after "--" is an operand.
func splitOptions(args []string, valued ...string) (opts map[string]string, operands []string) {
	opts = make(map[string]string)
	takesValue := make(map[string]bool, len(valued))
	for _, v := range valued {
		takesValue[v] = true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			operands = append(operands, args[i+1:]...)
			break
		}
		if len(arg) > 1 && strings.HasPrefix(arg, "-") {
			name, value, hasValue := strings.Cut(arg, "=")
			if takesValue[name] && !hasValue && i+1 < len(args) {
				i++
				value = args[i]
			}
			opts[name] = value
			continue
		}
		operands = append(operands, arg)
	}
	return opts, operands
}

func pathsOf(paths []string) []target {
	targets := make([]target, 0, len(paths))
	for _, p := range paths {
		targets = append(targets, target{path: p})
	}
	return targets
}

func operandsWith(valued ...string) func([]string) []target {
	return func(args []string) []target {
		_, operands := splitOptions(args, valued...)
		return pathsOf(operands)
	}
}

func valueOf(names ...string) func([]string) []target {
	return func(args []string) []target {
		opts, _ := splitOptions(args, names...)
		for _, name := range names {
			if v, ok := opts[name]; ok && v != "" {
				return []target{{path: v}}
			}
		}
		return nil
	}
}

func sedFiles(args []string) []target {
	hasScript := false
	var operands []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-e" || arg == "-f" || arg == "--expression" || arg == "--file":
			hasScript = true
			i++
		case strings.HasPrefix(arg, "--expression=") || strings.HasPrefix(arg, "--file="):
			hasScript = true
		case arg == "-l" || arg == "--line-length":
			i++
		case len(arg) > 1 && strings.HasPrefix(arg, "-"):
		default:
			operands = append(operands, arg)
		}
	}
	if !hasScript && len(operands) > 0 {
		operands = operands[1:]
	}
	return pathsOf(operands)
}

var perlCodeFlag = regexp.MustCompile(`^-[A-Za-z]*[eE]$`)

func perlFiles(args []string) []target {
	hasCode := false
	var operands []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case perlCodeFlag.MatchString(arg):
			hasCode = true
			i++
		case len(arg) > 1 && strings.HasPrefix(arg, "-"):
		default:
			operands = append(operands, arg)
		}
	}
	if !hasCode && len(operands) > 0 {
		operands = operands[1:]
	}
	return pathsOf(operands)
}

func teeFiles(args []string) []target {
	opts, operands := splitOptions(args)
	targets := pathsOf(operands)
	if _, ok := opts["-a"]; ok {
		setKind(targets, KindModify)
	} else if _, ok := opts["--append"]; ok {
		setKind(targets, KindModify)
	}
	return targets
}

func setKind(targets []target, kind Kind) {
	for i := range targets {
		targets[i].kind = kind
	}
}

func gitRmFiles(args []string) []target {
	opts, operands := splitOptions(args)
	if _, cached := opts["--cached"]; cached {
		return nil
	}
	return pathsOf(operands)
}

func gitRestoreFiles(args []string) []target {
	opts, operands := splitOptions(args, "-s", "--source")
	_, staged := opts["--staged"]
	_, worktree := opts["--worktree"]
	_, worktreeShort := opts["-W"]
	if staged && !worktree && !worktreeShort {
		return nil
	}
	return pathsOf(operands)
}

func afterDoubleDash(args []string) []target {
	for i, arg := range args {
		if arg == "--" {
			return pathsOf(args[i+1:])
		}
	}
	return nil
}

func editorFiles(args []string) []target {
	_, operands := splitOptions(args)
	var files []string
	for _, op := range operands {
		if strings.HasPrefix(op, "+") {
			continue
		}
		files = append(files, op)
	}
	return pathsOf(files)
}

// transfers handles mv-style "SRC... DST" and "-t DIR SRC..." argument lists,
// producing one target per source with its destination.
func transfers(valued ...string) func([]string) []target {
	return func(args []string) []target {
		opts, operands := splitOptions(args, valued...)
		var dir string
		if v, ok := opts["-t"]; ok {
			dir = v
		} else if v, ok := opts["--target-directory"]; ok {
			dir = v
		}

		if dir != "" {
			targets := make([]target, 0, len(operands))
			for _, src := range operands {
				targets = append(targets, target{path: src, dest: path.Join(dir, path.Base(src))})
			}
			return targets
		}

		if len(operands) < 2 {
			return nil
		}
		dst := operands[len(operands)-1]
		sources := operands[:len(operands)-1]
		targets := make([]target, 0, len(sources))
		for _, src := range sources {
			targets = append(targets, target{path: src, dest: destinationFor(src, dst, len(sources) > 1)})
		}
		return targets
	}
}

func copies(args []string) []target {
	moves := transfers("-t", "--target-directory", "-S", "--suffix")(args)
	targets := make([]target, 0, len(moves))
	for _, m := range moves {
		targets = append(targets, target{path: m.dest})
	}
	return targets
}

func links(args []string) []target {
	opts, operands := splitOptions(args, "-t", "--target-directory", "-S", "--suffix")
	if dir, ok := opts["-t"]; ok {
		var targets []target
		for _, src := range operands {
			targets = append(targets, target{path: path.Join(dir, path.Base(src))})
		}
		return targets
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return []target{{path: path.Base(operands[0])}}
	default:
		dst := operands[len(operands)-1]
		sources := operands[:len(operands)-1]
		var targets []target
		for _, src := range sources {
			targets = append(targets, target{path: destinationFor(src, dst, len(sources) > 1)})
		}
		return targets
	}
}

func destinationFor(src, dst string, intoDir bool) string {
	if intoDir || strings.HasSuffix(dst, "/") {
		return path.Join(dst, path.Base(src))
	}
	return dst
}
