package resource

// Type identifies a resource kind across providers.
type Type string

// AWS resource types.
const (
	EBSVolume    Type = "ebs_volume"
	ElasticIP    Type = "elastic_ip"
	EBSSnapshot  Type = "ebs_snapshot"
	EC2Instance  Type = "ec2_instance"
	NATGateway   Type = "nat_gateway"
	LoadBalancer Type = "load_balancer"
	RDSInstance  Type = "rds_instance"
)

// Azure resource types.
const (
	ManagedDisk    Type = "managed_disk"
	PublicIP       Type = "public_ip"
	VirtualMachine Type = "virtual_machine"
)

// GCP resource types.
const (
	PersistentDisk  Type = "persistent_disk"
	StaticIP        Type = "static_ip"
	ComputeInstance Type = "compute_instance"
)

// Microsoft 365 resource types.
const (
	M365License Type = "m365_license"
)

// Definition describes a registered resource type.
type Definition struct {
	Type     Type
	Provider Provider
	Title    string
	// PricingServices lists the base pricing services an estimate for this type
	// may resolve to. The fallback table must cover all of them.
	PricingServices []string
}

var catalogue = map[Type]Definition{
	EBSVolume:    {EBSVolume, ProviderAWS, "EBS Volume", []string{"ebs"}},
	ElasticIP:    {ElasticIP, ProviderAWS, "Elastic IP", []string{"eip"}},
	EBSSnapshot:  {EBSSnapshot, ProviderAWS, "EBS Snapshot", []string{"ebs_snapshot"}},
	EC2Instance:  {EC2Instance, ProviderAWS, "EC2 Instance", []string{"ec2", "ebs"}},
	NATGateway:   {NATGateway, ProviderAWS, "NAT Gateway", []string{"nat_gateway"}},
	LoadBalancer: {LoadBalancer, ProviderAWS, "Load Balancer", []string{"elb"}},
	RDSInstance:  {RDSInstance, ProviderAWS, "RDS Instance", []string{"rds", "rds_storage"}},

	ManagedDisk:    {ManagedDisk, ProviderAzure, "Managed Disk", []string{"disk"}},
	PublicIP:       {PublicIP, ProviderAzure, "Public IP", []string{"public_ip"}},
	VirtualMachine: {VirtualMachine, ProviderAzure, "Virtual Machine", []string{"disk"}},

	PersistentDisk:  {PersistentDisk, ProviderGCP, "Persistent Disk", []string{"pd"}},
	StaticIP:        {StaticIP, ProviderGCP, "Static IP", []string{"static_ip"}},
	ComputeInstance: {ComputeInstance, ProviderGCP, "Compute Instance", []string{"pd"}},

	M365License: {M365License, ProviderM365, "Microsoft 365 License", []string{"license"}},
}

// Lookup returns the definition of t.
func Lookup(t Type) (Definition, bool) {
	d, ok := catalogue[t]
	return d, ok
}

// TypesFor returns the registered types of a provider in stable order.
func TypesFor(p Provider) []Type {
	var out []Type
	for t, d := range catalogue {
		if d.Provider == p {
			out = append(out, t)
		}
	}
	SortTypes(out)
	return out
}

// All returns every registered definition in stable order.
func All() []Definition {
	types := make([]Type, 0, len(catalogue))
	for t := range catalogue {
		types = append(types, t)
	}
	SortTypes(types)
	out := make([]Definition, 0, len(types))
	for _, t := range types {
		out = append(out, catalogue[t])
	}
	return out
}
