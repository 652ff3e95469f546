package handlers

import (
	"net/http"
	"regexp"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version is set via ldflags at build time, usually to `git describe --tags --dirty`
var Version = "dev"

var (
	describeRe   = regexp.MustCompile(`^(.*)-(\d+)-g([0-9a-f]+)$`)
	bareCommitRe = regexp.MustCompile(`^[0-9a-f]{7,40}$`)
)

// parseGitDescribe turns git describe output into a PEP 440 style version
// and the commit it was built from (empty for exact tags).
func parseGitDescribe(s string) (version, commit string) {
	if bareCommitRe.MatchString(s) {
		return "dev+" + s, s
	}

	dirty := strings.HasSuffix(s, "-dirty")
	s = strings.TrimSuffix(s, "-dirty")
	if len(s) > 1 && s[0] == 'v' && s[1] >= '0' && s[1] <= '9' {
		s = s[1:]
	}

	if m := describeRe.FindStringSubmatch(s); m != nil {
		return m[1] + ".dev+" + m[3], m[3]
	}
	if dirty {
		return s + ".dev", ""
	}
	return s, ""
}

// GetVersion godoc
// @Summary Get version information
// @Description Returns version information about the realfolio server
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /version [get]
func GetVersion(c *gin.Context) {
	version, commit := parseGitDescribe(Version)
	c.JSON(http.StatusOK, gin.H{
		"version":    version,
		"commit":     commit,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	})
}
