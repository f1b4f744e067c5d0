package dynamo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

// Single table layout. Findings share the account partition so that one
// Query lists them.
const (
	attrPK = "pk"
	attrSK = "sk"

	skAccount       = "ACCOUNT"
	skJob           = "JOB"
	skLock          = "LOCK"
	skFindingPrefix = "FINDING#"
)

func accountPK(id string) string { return "ACCOUNT#" + id }
func ownerPK(id string) string   { return "OWNER#" + id }
func jobPK(id string) string     { return "JOB#" + id }
func lockPK(id string) string    { return "LOCK#" + id }

func ruleSK(t resource.Type) string { return "RULE#" + string(t) }

func findingSK(t resource.Type, providerID string) string {
	return skFindingPrefix + string(t) + "#" + providerID
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrPK: s(pk), attrSK: s(sk)}
}

func findingItemKey(k resource.FindingKey) map[string]types.AttributeValue {
	return key(accountPK(k.AccountID), findingSK(k.Type, k.ProviderID))
}

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

func n(v float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'f', -1, 64)}
}

func ts(t time.Time) types.AttributeValue {
	if t.IsZero() {
		return s("")
	}
	return s(t.UTC().Format(time.RFC3339Nano))
}

func getS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func getN(item map[string]types.AttributeValue, name string) (float64, error) {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	return strconv.ParseFloat(v.Value, 64)
}

func getTime(item map[string]types.AttributeValue, name string) (time.Time, error) {
	raw := getS(item, name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func decodeFinding(item map[string]types.AttributeValue) (store.Finding, error) {
	sk := strings.TrimPrefix(getS(item, attrSK), skFindingPrefix)
	typ, id, ok := strings.Cut(sk, "#")
	if !ok {
		return store.Finding{}, fmt.Errorf("malformed finding key %q", getS(item, attrSK))
	}
	f := store.Finding{
		AccountID:          strings.TrimPrefix(getS(item, attrPK), "ACCOUNT#"),
		ResourceType:       resource.Type(typ),
		ProviderResourceID: id,
		Region:             getS(item, "region"),
		Name:               getS(item, "name"),
		Currency:           getS(item, "currency"),
		PriceSource:        getS(item, "price_source"),
		Confidence:         getS(item, "confidence"),
		Scenario:           getS(item, "scenario"),
		Reason:             getS(item, "reason"),
		Status:             store.Status(getS(item, "status")),
		LastScanID:         getS(item, "last_scan_id"),
	}
	var err error
	if f.MonthlyCost, err = getN(item, "estimated_monthly_cost"); err != nil {
		return f, err
	}
	if f.CumulativeCost, err = getN(item, "estimated_cumulative_cost"); err != nil {
		return f, err
	}
	missed, err := getN(item, "missed_scans")
	if err != nil {
		return f, err
	}
	f.MissedScans = int(missed)
	if f.FirstSeenAt, err = getTime(item, "first_seen_at"); err != nil {
		return f, err
	}
	if f.LastSeenAt, err = getTime(item, "last_seen_at"); err != nil {
		return f, err
	}
	if f.StatusChangedAt, err = getTime(item, "status_changed_at"); err != nil {
		return f, err
	}
	if meta := getS(item, "resource_metadata"); meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &f.Metadata); err != nil {
			return f, fmt.Errorf("finding %s metadata: %w", f.Key(), err)
		}
	}
	return f, nil
}
