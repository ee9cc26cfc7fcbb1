package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/shipd-io/shipd/pkg/image"
)

// severityRank orders the severities trivy reports; anything at or
// above the threshold counts.
var severityRank = map[string]int{
	"UNKNOWN":  0,
	"LOW":      1,
	"MEDIUM":   2,
	"HIGH":     3,
	"CRITICAL": 4,
}

// ExecScanner shells out to a trivy-compatible scanner binary and
// parses its JSON report. Any failure to run the binary, or to parse
// what it wrote, is ErrScannerUnavailable.
type ExecScanner struct {
	Binary string // e.g. "trivy"
	Logger log.Logger
}

// report mirrors the subset of trivy's JSON output we read.
type report struct {
	Results []struct {
		Target          string `json:"Target"`
		Vulnerabilities []struct {
			VulnerabilityID string `json:"VulnerabilityID"`
			PkgName         string `json:"PkgName"`
			FixedVersion    string `json:"FixedVersion"`
			Severity        string `json:"Severity"`
			Title           string `json:"Title"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

func (s *ExecScanner) Scan(ctx context.Context, img image.Image, params Params) (Result, error) {
	args := []string{"image", "--format", "json", "--severity", severityList(params.SeverityThreshold)}
	if params.IgnoreUnfixed {
		args = append(args, "--ignore-unfixed")
	}
	args = append(args, img.Ref.String())

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := exec.CommandContext(ctx, s.Binary, args...)
	cmd.Stdout = out
	cmd.Stderr = errOut
	if err := cmd.Run(); err != nil {
		s.Logger.Log("scanner", s.Binary, "err", err, "stderr", strings.TrimSpace(errOut.String()))
		return Result{}, errors.Wrap(ErrScannerUnavailable, err.Error())
	}

	var rep report
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		return Result{}, errors.Wrap(ErrScannerUnavailable, "parsing scanner report")
	}

	result := Result{Outcome: image.ScanClean}
	threshold := severityRank[strings.ToUpper(params.SeverityThreshold)]
	for _, target := range rep.Results {
		for _, v := range target.Vulnerabilities {
			if severityRank[strings.ToUpper(v.Severity)] < threshold {
				continue
			}
			if params.IgnoreUnfixed && v.FixedVersion == "" {
				continue
			}
			result.Findings = append(result.Findings, Finding{
				ID:           v.VulnerabilityID,
				Severity:     v.Severity,
				Package:      v.PkgName,
				FixedVersion: v.FixedVersion,
				Title:        v.Title,
			})
		}
	}
	if len(result.Findings) > 0 {
		result.Outcome = image.ScanVulnerable
	}
	return result, nil
}

// severityList expands a threshold into the comma-separated list the
// scanner CLI expects, e.g. "HIGH" -> "HIGH,CRITICAL".
func severityList(threshold string) string {
	min, ok := severityRank[strings.ToUpper(threshold)]
	if !ok {
		return strings.ToUpper(threshold)
	}
	var above []string
	for _, sev := range []string{"UNKNOWN", "LOW", "MEDIUM", "HIGH", "CRITICAL"} {
		if severityRank[sev] >= min {
			above = append(above, sev)
		}
	}
	return strings.Join(above, ",")
}
