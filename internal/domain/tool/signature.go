package tool

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// CanonicalSignature computes the fingerprint C4 uses for loop detection,
// per-turn dedup, and read-cache keying. Per-tool rules are fixed by the
// tool's name; tools not recognized here fall back to a deep-stable JSON
// encoding of their arguments with sorted keys.
func CanonicalSignature(toolName string, args map[string]interface{}) string {
	switch toolName {
	case "file_read":
		return fileReadSignature(args)
	case "batch_file_read":
		return batchFileReadSignature(args)
	case "directory_list":
		return dirListSignature(args)
	case "file_write", "file_insert":
		return "path:" + stringArg(args, "path")
	case "ranged_edit":
		return "path:" + stringArg(args, "path") +
			"|start:" + strconv.Itoa(intArg(args, "start_line")) +
			"|end:" + strconv.Itoa(intArg(args, "end_line"))
	case "text_edit":
		old := stringArg(args, "old_text")
		if len(old) > 200 {
			old = old[:200]
		}
		return "path:" + stringArg(args, "path") + "|old:" + old
	case "patch_apply":
		return "patch:" + sortedFileList(args)
	case "regex_search":
		return "path:" + stringArg(args, "path") +
			"|include:" + stringArg(args, "include") +
			"|pattern:" + NormalizeSearchPattern(stringArg(args, "pattern"))
	case "shell_exec":
		return "exec:" + NormalizeExecSignature(stringArg(args, "command"))
	default:
		return toolName + ":" + deepStableJSON(args)
	}
}

func fileReadSignature(args map[string]interface{}) string {
	offset := intArg(args, "offset")
	if offset < 1 {
		offset = 1
	}
	bucket := (offset - 1) / 200
	return "path:" + stringArg(args, "path") +
		"|bucket:" + strconv.Itoa(bucket) +
		"|search:" + stringArg(args, "search")
}

func batchFileReadSignature(args map[string]interface{}) string {
	raw, _ := args["requests"].([]interface{})
	sigs := make([]string, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]interface{}); ok {
			sigs = append(sigs, fileReadSignature(m))
		}
	}
	return "batch:[" + strings.Join(sigs, ",") + "]"
}

func dirListSignature(args map[string]interface{}) string {
	return "path:" + stringArg(args, "path") +
		"|recursive:" + strconv.FormatBool(boolArg(args, "recursive")) +
		"|max_entries:" + strconv.Itoa(intArg(args, "max_entries"))
}

func sortedFileList(args map[string]interface{}) string {
	raw, _ := args["files"].([]interface{})
	files := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			files = append(files, s)
		}
	}
	sort.Strings(files)
	return strings.Join(files, ",")
}

var wordTokenRe = regexp.MustCompile(`[A-Za-z0-9_]{2,}`)

// NormalizeSearchPattern lowercases the pattern, tokenizes it into word
// tokens of length >= 2, de-duplicates, sorts, and joins with "|" — two
// patterns that differ only in word order or casing hash identically.
func NormalizeSearchPattern(pattern string) string {
	lower := strings.ToLower(pattern)
	tokens := wordTokenRe.FindAllString(lower, -1)
	seen := make(map[string]bool, len(tokens))
	unique := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			unique = append(unique, t)
		}
	}
	sort.Strings(unique)
	return strings.Join(unique, "|")
}

// outputFilterPipeRe strips trailing pipe-to-filter suffixes (| head,
// | tail -n 40, | grep -v foo) that don't change the command's semantics
// for loop-detection purposes.
var outputFilterPipeRe = regexp.MustCompile(`\s*\|\s*(head|tail|grep\s+-v)(\s+\S+)*\s*$`)

// testRunnerPatterns recognizes the leading program of known test-runner
// invocations so "npm test -- --filter=X | tee a" and
// "npm test -- --filter=X | head -n 40" normalize to the same signature.
var testRunnerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(npm|yarn|pnpm)\s+test\b`),
	regexp.MustCompile(`^php\s+artisan\s+test\b`),
	regexp.MustCompile(`^pytest\b`),
	regexp.MustCompile(`^vitest\b`),
	regexp.MustCompile(`^cargo\s+test\b`),
	regexp.MustCompile(`^go\s+test\b`),
}

// filterFlagRe extracts a -k/-t/--filter/-run style selector so the
// collapsed signature still distinguishes "run test X" from "run test Y".
var filterFlagRe = regexp.MustCompile(`(?:--filter=|-k\s+|-t\s+|-run\s+)(\S+)`)

// NormalizeExecSignature strips trailing output-filter pipes and, when a
// recognized test-runner is detected, collapses the command to
// "framework+filter" so functionally identical reruns of the same test
// hash identically regardless of how the caller piped the output.
func NormalizeExecSignature(command string) string {
	trimmed := strings.TrimSpace(command)
	for {
		stripped := outputFilterPipeRe.ReplaceAllString(trimmed, "")
		if stripped == trimmed {
			break
		}
		trimmed = strings.TrimSpace(stripped)
	}

	for _, re := range testRunnerPatterns {
		if re.MatchString(trimmed) {
			framework := re.FindString(trimmed)
			filter := ""
			if m := filterFlagRe.FindStringSubmatch(trimmed); m != nil {
				filter = m[1]
			}
			return strings.TrimSpace(framework) + "+" + filter
		}
	}

	return trimmed
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]interface{}, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// deepStableJSON produces a lexicographically key-sorted JSON encoding of
// arbitrary arguments, used as the fallback signature for tools without a
// bespoke rule above.
func deepStableJSON(v interface{}) string {
	b, err := json.Marshal(stabilize(v))
	if err != nil {
		return ""
	}
	return string(b)
}

// stabilize recursively rebuilds maps so json.Marshal's (already
// sorted-by-key for map[string]interface{}) output is deterministic even
// for nested maps decoded from JSON as map[string]interface{}.
func stabilize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = stabilize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = stabilize(val)
		}
		return out
	default:
		return v
	}
}
