// Package dynamo is a Repository on a single DynamoDB table.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"gopkg.in/yaml.v3"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

// API is the subset of the DynamoDB client the repository uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// TableName is appended to the configured prefix.
const TableName = "cloudwaste"

type Store struct {
	client API
	table  string
	now    func() time.Time
}

func New(client API, prefix string) *Store {
	return &Store{client: client, table: prefix + TableName, now: time.Now}
}

// NewFromConfig builds a Store on a real DynamoDB client.
func NewFromConfig(cfg aws.Config, prefix string) *Store {
	return New(dynamodb.NewFromConfig(cfg), prefix)
}

func (st *Store) Table() string { return st.table }

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// PutAccount registers or updates an account. An existing last_scan_at is kept.
func (st *Store) PutAccount(ctx context.Context, a resource.CloudAccount) error {
	regions := make([]types.AttributeValue, 0, len(a.Regions))
	for _, r := range a.Regions {
		regions = append(regions, s(r))
	}
	_, err := st.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(st.table),
		Key:                      key(accountPK(a.ID), skAccount),
		UpdateExpression:         aws.String("SET owner_id = :owner, #provider = :provider, #regions = :regions, last_scan_at = if_not_exists(last_scan_at, :at)"),
		ExpressionAttributeNames: map[string]string{"#provider": "provider", "#regions": "regions"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner":    s(a.OwnerID),
			":provider": s(string(a.Provider)),
			":regions":  &types.AttributeValueMemberL{Value: regions},
			":at":       ts(a.LastScanAt),
		},
	})
	if err != nil {
		return fmt.Errorf("put account %s: %w", a.ID, err)
	}
	return nil
}

func (st *Store) GetAccount(ctx context.Context, accountID string) (resource.CloudAccount, error) {
	out, err := st.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(st.table),
		Key:            key(accountPK(accountID), skAccount),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return resource.CloudAccount{}, fmt.Errorf("get account %s: %w", accountID, err)
	}
	if len(out.Item) == 0 {
		return resource.CloudAccount{}, fmt.Errorf("account %s: %w", accountID, store.ErrNotFound)
	}
	a := resource.CloudAccount{
		ID:       accountID,
		OwnerID:  getS(out.Item, "owner_id"),
		Provider: resource.Provider(getS(out.Item, "provider")),
	}
	if l, ok := out.Item["regions"].(*types.AttributeValueMemberL); ok {
		for _, v := range l.Value {
			if r, ok := v.(*types.AttributeValueMemberS); ok {
				a.Regions = append(a.Regions, r.Value)
			}
		}
	}
	if a.LastScanAt, err = getTime(out.Item, "last_scan_at"); err != nil {
		return a, err
	}
	return a, nil
}

func (st *Store) PutRuleOverride(ctx context.Context, r config.DetectionRule) error {
	body, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	item := key(ownerPK(r.OwnerID), ruleSK(r.ResourceType))
	item["rule"] = s(string(body))
	if _, err := st.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(st.table), Item: item}); err != nil {
		return fmt.Errorf("put rule %s/%s: %w", r.OwnerID, r.ResourceType, err)
	}
	return nil
}

func (st *Store) GetRuleOverrides(ctx context.Context, ownerID string, t resource.Type) (*config.DetectionRule, error) {
	out, err := st.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(st.table),
		Key:       key(ownerPK(ownerID), ruleSK(t)),
	})
	if err != nil {
		return nil, fmt.Errorf("get rule %s/%s: %w", ownerID, t, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var r config.DetectionRule
	if err := yaml.Unmarshal([]byte(getS(out.Item, "rule")), &r); err != nil {
		return nil, fmt.Errorf("decode rule %s/%s: %w", ownerID, t, err)
	}
	return &r, nil
}

func (st *Store) SaveScanJob(ctx context.Context, job *store.ScanJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	item := key(jobPK(job.ID), skJob)
	item["account_id"] = s(job.AccountID)
	item["status"] = s(string(job.Status))
	item["job"] = s(string(body))
	if _, err := st.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(st.table), Item: item}); err != nil {
		return fmt.Errorf("save scan job %s: %w", job.ID, err)
	}
	if job.Status == store.JobCompleted {
		_, err := st.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(st.table),
			Key:                       key(accountPK(job.AccountID), skAccount),
			UpdateExpression:          aws.String("SET last_scan_at = :at"),
			ConditionExpression:       aws.String("attribute_exists(pk)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":at": ts(job.CompletedAt)},
		})
		if err != nil && !isConditionFailed(err) {
			return fmt.Errorf("touch account %s: %w", job.AccountID, err)
		}
	}
	return nil
}

func (st *Store) GetScanJob(ctx context.Context, jobID string) (*store.ScanJob, error) {
	out, err := st.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(st.table),
		Key:            key(jobPK(jobID), skJob),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get scan job %s: %w", jobID, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("scan job %s: %w", jobID, store.ErrNotFound)
	}
	var job store.ScanJob
	if err := json.Unmarshal([]byte(getS(out.Item, "job")), &job); err != nil {
		return nil, fmt.Errorf("decode scan job %s: %w", jobID, err)
	}
	return &job, nil
}

// AcquireAccountScanLock is a conditional put. Re-acquiring by the holder succeeds.
func (st *Store) AcquireAccountScanLock(ctx context.Context, accountID, jobID string) (bool, error) {
	item := key(lockPK(accountID), skLock)
	item["job_id"] = s(jobID)
	item["acquired_at"] = ts(st.now())
	_, err := st.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(st.table),
		Item:                      item,
		ConditionExpression:       aws.String("attribute_not_exists(pk) OR job_id = :job"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":job": s(jobID)},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", accountID, err)
	}
	return true, nil
}

func (st *Store) ReleaseAccountScanLock(ctx context.Context, accountID, jobID string) error {
	_, err := st.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(st.table),
		Key:                       key(lockPK(accountID), skLock),
		ConditionExpression:       aws.String("job_id = :job"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":job": s(jobID)},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("release lock %s: %w", accountID, err)
	}
	return nil
}

const upsertExpression = "SET #region = :region, #name = :name, " +
	"estimated_monthly_cost = :monthly, estimated_cumulative_cost = :cumulative, " +
	"#currency = :currency, price_source = :source, confidence = :confidence, " +
	"scenario = :scenario, #reason = :reason, resource_metadata = :meta, " +
	"last_seen_at = :seen, missed_scans = :zero, last_scan_id = :scan, " +
	"#status = if_not_exists(#status, :active), " +
	"first_seen_at = if_not_exists(first_seen_at, :seen), " +
	"status_changed_at = if_not_exists(status_changed_at, :seen)"

// UpsertFinding relies on if_not_exists so that status, status_changed_at and
// first_seen_at are only written on creation.
func (st *Store) UpsertFinding(ctx context.Context, f store.Finding) (bool, error) {
	meta, err := json.Marshal(f.Metadata)
	if err != nil {
		return false, err
	}
	out, err := st.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(st.table),
		Key:              findingItemKey(f.Key()),
		UpdateExpression: aws.String(upsertExpression),
		ExpressionAttributeNames: map[string]string{
			"#region": "region", "#name": "name", "#currency": "currency", "#reason": "reason", "#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":region":     s(f.Region),
			":name":       s(f.Name),
			":monthly":    n(f.MonthlyCost),
			":cumulative": n(f.CumulativeCost),
			":currency":   s(f.Currency),
			":source":     s(f.PriceSource),
			":confidence": s(f.Confidence),
			":scenario":   s(f.Scenario),
			":reason":     s(f.Reason),
			":meta":       s(string(meta)),
			":seen":       ts(f.LastSeenAt),
			":zero":       n(0),
			":scan":       s(f.LastScanID),
			":active":     s(string(store.StatusActive)),
		},
		ReturnValues: types.ReturnValueUpdatedOld,
	})
	if err != nil {
		return false, fmt.Errorf("upsert finding %s: %w", f.Key(), err)
	}
	return len(out.Attributes) == 0, nil
}

func (st *Store) ListFindings(ctx context.Context, accountID string) ([]store.Finding, error) {
	p := dynamodb.NewQueryPaginator(st.client, &dynamodb.QueryInput{
		TableName:              aws.String(st.table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     s(accountPK(accountID)),
			":prefix": s(skFindingPrefix),
		},
		ConsistentRead: aws.Bool(true),
	})
	var out []store.Finding
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list findings %s: %w", accountID, err)
		}
		for _, item := range page.Items {
			f, err := decodeFinding(item)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func (st *Store) updateExisting(ctx context.Context, op string, k resource.FindingKey, expr string,
	names map[string]string, values map[string]types.AttributeValue) error {
	_, err := st.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(st.table),
		Key:                       findingItemKey(k),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(pk)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("finding %s: %w", k, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, k, err)
	}
	return nil
}

func (st *Store) SetMissedScans(ctx context.Context, k resource.FindingKey, missed int) error {
	return st.updateExisting(ctx, "set missed scans", k, "SET missed_scans = :m", nil,
		map[string]types.AttributeValue{":m": n(float64(missed))})
}

func (st *Store) SetFindingStatus(ctx context.Context, k resource.FindingKey, status store.Status, at time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	return st.updateExisting(ctx, "set status", k, "SET #status = :s, status_changed_at = :at",
		map[string]string{"#status": "status"},
		map[string]types.AttributeValue{":s": s(string(status)), ":at": ts(at)})
}

func (st *Store) DeleteFinding(ctx context.Context, k resource.FindingKey) error {
	_, err := st.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(st.table),
		Key:       findingItemKey(k),
	})
	if err != nil {
		return fmt.Errorf("delete finding %s: %w", k, err)
	}
	return nil
}

var _ store.Repository = (*Store)(nil)
