package flagutil

import (
	"errors"
	"flag"
	"path/filepath"

	"github.com/spf13/pflag"
	prowflagutil "sigs.k8s.io/prow/pkg/flagutil"

	"github.com/skyofdwarf/jira-notify/internal/config"
)

const (
	tokenFileName string = "jira-token"
)

type JiraOptions struct {
	prowflagutil.JiraOptions
	bearerTokenFile string
	endpoint        string
}

// AddPFlags injects Jira options into the given pflag.FlagSet. The values are handed to
// the prow options by SetFromPFlags once the flags are parsed.
func (o *JiraOptions) AddPFlags(fs *pflag.FlagSet) {
	defaultTokenPath := filepath.Join(config.MustConfigDir(), tokenFileName)

	fs.StringVar(&o.bearerTokenFile, "jira.bearer-token-file", defaultTokenPath, "Path to the file containing the Jira bearer token")
	fs.StringVar(&o.endpoint, "jira.endpoint", "", "Jira endpoint URL, e.g. https://jira.example.com")
}

// SetFromPFlags copies values from pflag variables to the JiraOptions
func (o *JiraOptions) SetFromPFlags() {
	goFlags := flag.NewFlagSet("temp", flag.ContinueOnError)
	o.JiraOptions.AddCustomizedFlags(goFlags,
		prowflagutil.JiraDefaultEndpoint(o.endpoint),
		prowflagutil.JiraDefaultBearerTokenFile(o.bearerTokenFile),
		prowflagutil.JiraNoBasicAuth(),
	)
	goFlags.Parse([]string{}) // Parse empty args to set defaults
}

func (o *JiraOptions) Validate() error {
	if o.endpoint == "" {
		return errors.New("--jira.endpoint is required")
	}
	return o.JiraOptions.Validate(false)
}
