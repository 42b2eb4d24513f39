package scorer

// Weights holds the points each risk signal contributes.
// Zero disables a signal.
type Weights struct {
	// DangerousFunctions maps a function name to its points; names not listed
	// use DangerousDefault.
	DangerousFunctions map[string]int `yaml:"dangerous_functions"`
	DangerousDefault   int            `yaml:"dangerous_default"`

	AjaxEndpoint    int `yaml:"ajax_endpoint"`
	AjaxEndpointCap int `yaml:"ajax_endpoint_cap"`
	AjaxNoNonce     int `yaml:"ajax_no_nonce"`
	SanitizationGap int `yaml:"sanitization_gap"`
	FileOperations  int `yaml:"file_operations"`
	SQLNoPrepare    int `yaml:"sql_no_prepare"`

	StaleAfterDays int `yaml:"stale_after_days"`
	Stale          int `yaml:"stale"`
	StaleStepDays  int `yaml:"stale_step_days"`
	StaleStep      int `yaml:"stale_step"`
	AbandonedDays  int `yaml:"abandoned_days"`
	Abandoned      int `yaml:"abandoned"`

	HighValueInstalls   int `yaml:"high_value_installs"`
	HighValue           int `yaml:"high_value"`
	PopularInstalls     int `yaml:"popular_installs"`
	Popular             int `yaml:"popular"`
	EstablishedInstalls int `yaml:"established_installs"`
	Established         int `yaml:"established"`

	UntrustedAuthor   int `yaml:"untrusted_author"`
	RiskyCategory     int `yaml:"risky_category"`
	UserFacing        int `yaml:"user_facing"`
	OutdatedWPSupport int `yaml:"outdated_wp_support"`
}

// DefaultWeights returns the built-in weights
func DefaultWeights() Weights {
	return Weights{
		DangerousFunctions: map[string]int{
			"eval":                 15,
			"assert":               12,
			"create_function":      12,
			"system":               12,
			"exec":                 12,
			"shell_exec":           12,
			"passthru":             12,
			"popen":                12,
			"proc_open":            12,
			"pcntl_exec":           12,
			"unserialize":          10,
			"move_uploaded_file":   8,
			"extract":              6,
			"call_user_func":       5,
			"call_user_func_array": 5,
			"preg_replace":         4,
			"parse_str":            4,
			"base64_decode":        3,
			"include":              2,
			"require":              2,
		},
		DangerousDefault: 5,

		AjaxEndpoint:    3,
		AjaxEndpointCap: 5,
		AjaxNoNonce:     20,
		SanitizationGap: 8,
		FileOperations:  4,
		SQLNoPrepare:    6,

		StaleAfterDays: 365,
		Stale:          10,
		StaleStepDays:  365,
		StaleStep:      5,
		AbandonedDays:  730,
		Abandoned:      10,

		HighValueInstalls:   1_000_000,
		HighValue:           15,
		PopularInstalls:     100_000,
		Popular:             10,
		EstablishedInstalls: 10_000,
		Established:         5,

		UntrustedAuthor:   5,
		RiskyCategory:     10,
		UserFacing:        5,
		OutdatedWPSupport: 5,
	}
}

// dangerousPoints returns the weight of one dangerous function
func (w Weights) dangerousPoints(name string) int {
	if p, ok := w.DangerousFunctions[name]; ok {
		return p
	}
	return w.DangerousDefault
}
