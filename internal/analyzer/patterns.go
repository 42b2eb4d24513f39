package analyzer

import (
	"regexp"
	"strings"

	"github.com/ppiankov/wphunter/internal/models"
)

// DangerousFunctions are PHP calls that execute code, shell out or deserialize input
var DangerousFunctions = []string{
	"eval",
	"assert",
	"create_function",
	"system",
	"exec",
	"shell_exec",
	"passthru",
	"popen",
	"proc_open",
	"pcntl_exec",
	"unserialize",
	"call_user_func",
	"call_user_func_array",
	"preg_replace",
	"extract",
	"parse_str",
	"move_uploaded_file",
	"include",
	"require",
	"base64_decode",
}

// FileOperations are PHP filesystem calls
var FileOperations = []string{
	"fopen",
	"file_get_contents",
	"file_put_contents",
	"readfile",
	"unlink",
}

// AjaxMarkers indicate an AJAX or REST entry point
var AjaxMarkers = []string{
	"wp_ajax_",
	"wp_ajax_nopriv_",
	"admin-ajax.php",
	"register_rest_route",
}

// ThemeMarkers indicate theme integration hooks
var ThemeMarkers = []string{
	"add_theme_support",
	"customize_register",
	"wp_enqueue_script",
	"get_template_part",
	"add_shortcode",
}

// SQLMarkers indicate direct database access
var SQLMarkers = []string{
	"$wpdb->",
	"prepare(",
	"get_results",
	"get_var",
	"query(",
}

// NonceMarkers indicate CSRF protection
var NonceMarkers = []string{
	"wp_nonce_field",
	"wp_verify_nonce",
	"wp_create_nonce",
	"check_admin_referer",
	"check_ajax_referer",
}

// callPattern matches a function name followed by an opening paren
type callPattern struct {
	name string
	re   *regexp.Regexp
}

func compileCalls(names []string) []callPattern {
	out := make([]callPattern, 0, len(names))
	for _, n := range names {
		out = append(out, callPattern{
			name: n,
			re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(n) + `\s*\(`),
		})
	}
	return out
}

var (
	dangerousCalls = compileCalls(DangerousFunctions)
	fileCalls      = compileCalls(FileOperations)
)

func matchCalls(content string, calls []callPattern, c models.Category, r *models.CodeAnalysisResult) {
	for _, p := range calls {
		if p.re.MatchString(content) {
			r.Add(c, p.name)
		}
	}
}

func matchSubstrings(content string, markers []string, c models.Category, r *models.CodeAnalysisResult) {
	for _, m := range markers {
		if strings.Contains(content, m) {
			r.Add(c, m)
		}
	}
}
