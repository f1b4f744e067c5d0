package resource

// Attribute keys set by the adapters and read by the detection rules.
const (
	AttrState             = "state"
	AttrSizeGB            = "size_gb"
	AttrVolumeType        = "volume_type"
	AttrAttached          = "attached"
	AttrAttachedInstance  = "attached_instance"
	AttrAttachedStorageGB = "attached_storage_gb"
	AttrAssociated        = "associated"
	AttrPublicIP          = "public_ip"
	AttrAgeSource         = "age_source"

	AttrSourceVolume       = "source_volume"
	AttrSourceVolumeExists = "source_volume_exists"

	AttrInstanceType = "instance_type"

	AttrLBType          = "lb_type"
	AttrListenerCount   = "listener_count"
	AttrTargetGroups    = "target_group_count"
	AttrHealthyTargets  = "healthy_target_count"
	AttrMetricDimension = "metric_dimension"

	AttrDBClass  = "db_class"
	AttrDBEngine = "db_engine"

	AttrSKU               = "sku"
	AttrUserPrincipalName = "user_principal_name"
	AttrAccountEnabled    = "account_enabled"

	// AttrSignedIn is false for users that never signed in.
	AttrSignedIn = "signed_in"
)
