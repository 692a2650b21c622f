package domain

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/bwmarrin/snowflake"
)

type InstallScriptRequest struct {
	AccessPointID snowflake.ID
	// APIURL is the public base URL routers call back into.
	APIURL string
}

type InstallScripts struct {
	AccessPointID snowflake.ID `json:"access_point_id"`
	Name          string       `json:"name"`
	APIURL        string       `json:"api_url"`
	RouterOS      string       `json:"routeros"`
	Bash          string       `json:"bash"`
	Steps         []string     `json:"steps"`
}

var installSteps = []string{
	"Paste the RouterOS script into the router terminal.",
	"Check /log print for the captiva install line.",
	"Confirm the access point reports online in the fleet status.",
}

const routerOSTemplate = `# captiva access point setup
# access point: {{.Name}} ({{.ID}})
# token: {{.TokenHint}}

/system script remove [find name~"^captiva-"]
/system script add name=captiva-heartbeat policy=read,write,test source={
  :local count [/ip hotspot active print count-only]
  /tool fetch url="{{.APIURL}}/api/access-points/heartbeat" http-method=post \
    http-header-field="Content-Type: application/json,X-Access-Point-ID: {{.ID}},Authorization: Bearer {{.Token}}" \
    http-data=("{\"status\":\"online\",\"connected_devices\":" . $count . "}") output=none
}
/system script add name=captiva-presence policy=read,write,test source={
  :global captivaMac
  :global captivaEvent
  /tool fetch url="{{.APIURL}}/api/access-points/presence" http-method=post \
    http-header-field="Content-Type: application/json,X-Access-Point-ID: {{.ID}},Authorization: Bearer {{.Token}}" \
    http-data=("{\"mac_address\":\"" . $captivaMac . "\",\"event\":\"" . $captivaEvent . "\"}") output=none
}

/system scheduler remove [find name="captiva-heartbeat"]
/system scheduler add name=captiva-heartbeat interval=1m on-event=captiva-heartbeat comment="captiva heartbeat"

/ip hotspot user profile set [find default=yes] \
  on-login=":global captivaMac \$\"mac-address\"; :global captivaEvent \"connect\"; /system script run captiva-presence" \
  on-logout=":global captivaMac \$\"mac-address\"; :global captivaEvent \"disconnect\"; /system script run captiva-presence"

:log info "captiva install complete for access point {{.ID}}"
`

const bashTemplate = `#!/usr/bin/env bash
# captiva connectivity check
# access point: {{.Name}} ({{.ID}})
set -euo pipefail

ACCESS_POINT_ID="{{.ID}}"
TOKEN="{{.Token}}"
API_URL="{{.APIURL}}"

curl -fsS -X POST "$API_URL/api/access-points/heartbeat" \
  -H "Content-Type: application/json" \
  -H "X-Access-Point-ID: $ACCESS_POINT_ID" \
  -H "Authorization: Bearer $TOKEN" \
  -d '{"status":"online","connected_devices":0}'
echo
echo "heartbeat accepted for access point $ACCESS_POINT_ID"
`

var (
	routerOSScript = template.Must(template.New("routeros").Parse(routerOSTemplate))
	bashScript     = template.Must(template.New("bash").Parse(bashTemplate))
)

type scriptData struct {
	ID        string
	Name      string
	Token     string
	TokenHint string
	APIURL    string
}

// RenderInstallScripts builds the router setup scripts for an access point.
// The scripts carry the access point's current api token.
func RenderInstallScripts(ap AccessPoint, apiURL string) (*InstallScripts, error) {
	base, err := NormalizeAPIURL(apiURL)
	if err != nil {
		return nil, err
	}
	if ap.APIToken == "" || !scriptSafe(ap.APIToken) {
		return nil, ErrInvalidToken
	}

	data := scriptData{
		ID:        ap.ID.String(),
		Name:      commentSafe(ap.Name),
		Token:     ap.APIToken,
		TokenHint: tokenHint(ap.APIToken),
		APIURL:    base,
	}

	var routeros, bash bytes.Buffer
	if err := routerOSScript.Execute(&routeros, data); err != nil {
		return nil, fmt.Errorf("render routeros script: %w", err)
	}
	if err := bashScript.Execute(&bash, data); err != nil {
		return nil, fmt.Errorf("render bash script: %w", err)
	}

	return &InstallScripts{
		AccessPointID: ap.ID,
		Name:          ap.Name,
		APIURL:        base,
		RouterOS:      routeros.String(),
		Bash:          bash.String(),
		Steps:         append([]string(nil), installSteps...),
	}, nil
}

// NormalizeAPIURL accepts an absolute http(s) URL without query or fragment
// and returns it without a trailing slash.
func NormalizeAPIURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidAPIURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidAPIURL
	}
	if u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", ErrInvalidAPIURL
	}
	if !scriptSafe(raw) {
		return "", ErrInvalidAPIURL
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// scriptSafe rejects characters that would break out of a quoted string in
// either script.
func scriptSafe(s string) bool {
	return !strings.ContainsAny(s, "\"'` \t\r\n$\\;{}")
}

func tokenHint(token string) string {
	if len(token) <= 8 {
		return "..."
	}
	return token[:8] + "..."
}

func commentSafe(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
