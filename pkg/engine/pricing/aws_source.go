package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"

	awsengine "github.com/surpriz/cloud-waste-sub010/pkg/engine/aws"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// PricingAPI is the subset of the AWS Price List client in use.
type PricingAPI interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// DiscountSource yields the factor applied to instance-hour list prices.
type DiscountSource interface {
	DiscountFactor(ctx context.Context) float64
}

// AWSSource prices AWS services through the Price List API. The API is only
// served from a few regions; the client should target us-east-1.
type AWSSource struct {
	svc      PricingAPI
	discount DiscountSource
}

func NewAWSSource(svc PricingAPI, discount DiscountSource) *AWSSource {
	return &AWSSource{svc: svc, discount: discount}
}

func (s *AWSSource) Provider() resource.Provider { return resource.ProviderAWS }

var volumeTypeNames = map[string]string{
	"gp2":      "General Purpose",
	"gp3":      "General Purpose SSD (gp3)",
	"io1":      "Provisioned IOPS",
	"io2":      "Provisioned IOPS SSD (io2)",
	"st1":      "Throughput Optimized HDD",
	"sc1":      "Cold HDD",
	"standard": "Magnetic",
}

func term(field, value string) types.Filter {
	return types.Filter{
		Type:  types.FilterTypeTermMatch,
		Field: aws.String(field),
		Value: aws.String(value),
	}
}

// FetchUnitPrice returns the on-demand unit price for k. Base services without
// a variant, and variants the API cannot express, return ErrNoPrice so the
// fallback stays in effect.
func (s *AWSSource) FetchUnitPrice(ctx context.Context, k Key) (Quote, error) {
	service, filters, err := s.filtersFor(k)
	if err != nil {
		return Quote{}, err
	}
	out, err := s.svc.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String(service),
		Filters:     filters,
		MaxResults:  aws.Int32(1),
	})
	if err != nil {
		return Quote{}, awsengine.Classify("GetProducts", err)
	}
	if len(out.PriceList) == 0 {
		return Quote{}, fmt.Errorf("%s: %w", k, ErrNoPrice)
	}
	q, err := parsePriceFromJSON(out.PriceList[0])
	if err != nil {
		return Quote{}, fmt.Errorf("%s: %w", k, err)
	}
	if q.Unit == UnitHour && (k.Base() == "ec2" || k.Base() == "rds") && s.discount != nil {
		q.Price *= s.discount.DiscountFactor(ctx)
	}
	return q, nil
}

func (s *AWSSource) filtersFor(k Key) (string, []types.Filter, error) {
	region := term("regionCode", k.Region)
	variant := k.Variant()
	switch k.Base() {
	case "ebs":
		name, ok := volumeTypeNames[variant]
		if !ok {
			return "", nil, fmt.Errorf("%s: %w", k, ErrNoPrice)
		}
		return "AmazonEC2", []types.Filter{
			term("productFamily", "Storage"), region, term("volumeType", name),
		}, nil
	case "ebs_snapshot":
		return "AmazonEC2", []types.Filter{
			term("productFamily", "Storage Snapshot"), region, term("usagetype", usagePrefix(k.Region)+"EBS:SnapshotUsage"),
		}, nil
	case "ec2":
		if variant == "" {
			return "", nil, fmt.Errorf("%s: %w", k, ErrNoPrice)
		}
		return "AmazonEC2", []types.Filter{
			term("productFamily", "Compute Instance"), region,
			term("instanceType", variant),
			term("tenancy", "Shared"),
			term("operatingSystem", "Linux"),
			term("preInstalledSw", "NA"),
			term("capacitystatus", "Used"),
		}, nil
	case "nat_gateway":
		return "AmazonEC2", []types.Filter{
			term("productFamily", "NAT Gateway"), region, term("group", "NGW:NatGateway"),
		}, nil
	case "eip":
		return "AmazonEC2", []types.Filter{
			term("productFamily", "IP Address"), region, term("group", "ElasticIP:Address"),
		}, nil
	case "elb":
		family := map[string]string{
			"application": "Load Balancer-Application",
			"network":     "Load Balancer-Network",
			"gateway":     "Load Balancer-Gateway",
		}[variant]
		if family == "" {
			family = "Load Balancer-Application"
		}
		return "AWSELB", []types.Filter{
			term("productFamily", family), region, term("groupDescription", "LoadBalancer hourly usage"),
		}, nil
	case "rds":
		if variant == "" {
			return "", nil, fmt.Errorf("%s: %w", k, ErrNoPrice)
		}
		return "AmazonRDS", []types.Filter{
			term("productFamily", "Database Instance"), region,
			term("instanceType", variant),
			term("deploymentOption", "Single-AZ"),
			term("databaseEngine", "PostgreSQL"),
		}, nil
	case "rds_storage":
		return "AmazonRDS", []types.Filter{
			term("productFamily", "Database Storage"), region,
			term("volumeType", "General Purpose"),
			term("deploymentOption", "Single-AZ"),
		}, nil
	}
	return "", nil, fmt.Errorf("%s: %w", k, ErrNoPrice)
}

// usagePrefix is the usage-type region code, empty for us-east-1.
func usagePrefix(region string) string {
	codes := map[string]string{
		"us-east-2":      "USE2-",
		"us-west-1":      "USW1-",
		"us-west-2":      "USW2-",
		"eu-west-1":      "EU-",
		"eu-west-2":      "EUW2-",
		"eu-west-3":      "EUW3-",
		"eu-central-1":   "EUC1-",
		"ap-southeast-1": "APS1-",
		"ap-southeast-2": "APS2-",
		"ap-northeast-1": "APN1-",
	}
	return codes[region]
}

// parsePriceFromJSON reads the first USD on-demand dimension of a price list
// document.
func parsePriceFromJSON(jsonStr string) (Quote, error) {
	type PriceDimension struct {
		Unit         string            `json:"unit"`
		PricePerUnit map[string]string `json:"pricePerUnit"`
	}
	type Term struct {
		PriceDimensions map[string]PriceDimension `json:"priceDimensions"`
	}
	type Product struct {
		Terms map[string]map[string]Term `json:"terms"` // OnDemand -> SKU -> Term
	}

	var p Product
	if err := json.Unmarshal([]byte(jsonStr), &p); err != nil {
		return Quote{}, err
	}

	for _, term := range p.Terms["OnDemand"] {
		for _, dim := range term.PriceDimensions {
			valStr, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			val, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				continue
			}
			return Quote{Price: val, Unit: normalizeUnit(dim.Unit), Currency: "USD"}, nil
		}
	}
	return Quote{}, fmt.Errorf("price not found in JSON: %w", ErrNoPrice)
}

func normalizeUnit(u string) Unit {
	switch u {
	case "Hrs", "Hours", "hours":
		return UnitHour
	case "GB-Mo", "GB-month":
		return UnitGBMonth
	}
	return UnitMonth
}
