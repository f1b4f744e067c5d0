package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// FallbackPrice is a static, region-independent unit price in USD.
type FallbackPrice struct {
	Price float64
	Unit  Unit
}

// Table maps provider and service (with or without variant) to a price.
type Table map[resource.Provider]map[string]FallbackPrice

// DefaultTable holds list prices for us-east-1 or the provider equivalent.
func DefaultTable() Table {
	return Table{
		resource.ProviderAWS: {
			"ebs":              {0.10, UnitGBMonth},
			"ebs:gp2":          {0.10, UnitGBMonth},
			"ebs:gp3":          {0.08, UnitGBMonth},
			"ebs:io1":          {0.125, UnitGBMonth},
			"ebs:io2":          {0.125, UnitGBMonth},
			"ebs:st1":          {0.045, UnitGBMonth},
			"ebs:sc1":          {0.015, UnitGBMonth},
			"ebs:standard":     {0.05, UnitGBMonth},
			"ebs_snapshot":     {0.05, UnitGBMonth},
			"eip":              {0.005, UnitHour},
			"ec2":              {0.10, UnitHour},
			"ec2:t3.micro":     {0.0104, UnitHour},
			"ec2:t3.small":     {0.0208, UnitHour},
			"ec2:t3.medium":    {0.0416, UnitHour},
			"ec2:t3.large":     {0.0832, UnitHour},
			"ec2:m5.large":     {0.096, UnitHour},
			"ec2:m5.xlarge":    {0.192, UnitHour},
			"ec2:c5.large":     {0.085, UnitHour},
			"ec2:r5.large":     {0.126, UnitHour},
			"nat_gateway":      {0.045, UnitHour},
			"elb":              {0.0225, UnitHour},
			"elb:application":  {0.0225, UnitHour},
			"elb:network":      {0.0225, UnitHour},
			"elb:gateway":      {0.0125, UnitHour},
			"rds":              {0.10, UnitHour},
			"rds:db.t3.micro":  {0.017, UnitHour},
			"rds:db.t3.small":  {0.034, UnitHour},
			"rds:db.t3.medium": {0.068, UnitHour},
			"rds:db.m5.large":  {0.171, UnitHour},
			"rds_storage":      {0.115, UnitGBMonth},
		},
		resource.ProviderAzure: {
			"disk":                 {0.05, UnitGBMonth},
			"disk:Standard_LRS":    {0.045, UnitGBMonth},
			"disk:StandardSSD_LRS": {0.075, UnitGBMonth},
			"disk:Premium_LRS":     {0.15, UnitGBMonth},
			"disk:PremiumV2_LRS":   {0.12, UnitGBMonth},
			"public_ip":            {0.005, UnitHour},
		},
		resource.ProviderGCP: {
			"pd":             {0.04, UnitGBMonth},
			"pd:pd-standard": {0.04, UnitGBMonth},
			"pd:pd-balanced": {0.10, UnitGBMonth},
			"pd:pd-ssd":      {0.17, UnitGBMonth},
			"pd:pd-extreme":  {0.125, UnitGBMonth},
			"static_ip":      {0.01, UnitHour},
		},
		resource.ProviderM365: {
			"license":                          {10.0, UnitMonth},
			"license:O365_BUSINESS_ESSENTIALS": {6.0, UnitMonth},
			"license:O365_BUSINESS_PREMIUM":    {22.0, UnitMonth},
			"license:STANDARDPACK":             {10.0, UnitMonth},
			"license:ENTERPRISEPACK":           {23.0, UnitMonth},
			"license:SPE_E3":                   {36.0, UnitMonth},
			"license:SPE_E5":                   {57.0, UnitMonth},
		},
	}
}

// lookup tries the exact service, then its base service.
func (t Table) lookup(k Key) (FallbackPrice, bool) {
	services := t[k.Provider]
	if p, ok := services[k.Service]; ok {
		return p, true
	}
	p, ok := services[k.Base()]
	return p, ok
}

// Validate checks that every base pricing service of every registered
// resource type has a fallback price.
func (t Table) Validate(defs []resource.Definition) error {
	var gaps []string
	for _, d := range defs {
		for _, svc := range d.PricingServices {
			if _, ok := t[d.Provider][svc]; !ok {
				gaps = append(gaps, fmt.Sprintf("%s/%s (%s)", d.Provider, svc, d.Type))
			}
		}
	}
	if len(gaps) > 0 {
		sort.Strings(gaps)
		return fmt.Errorf("%w: %s", ErrFallbackGap, strings.Join(gaps, ", "))
	}
	return nil
}

// Keys returns a key per priced service of p in each region, used to seed a
// refresh.
func (t Table) Keys(p resource.Provider, regions []string) []Key {
	services := make([]string, 0, len(t[p]))
	for svc := range t[p] {
		services = append(services, svc)
	}
	sort.Strings(services)
	var out []Key
	for _, r := range regions {
		for _, svc := range services {
			out = append(out, Key{Provider: p, Service: svc, Region: r})
		}
	}
	return out
}
