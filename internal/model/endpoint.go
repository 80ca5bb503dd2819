package model

// Model is a deployable model resource bound to a registered package
type Model struct {
	Name            string `json:"name"`
	ModelPackageARN string `json:"modelPackageArn"`
	ExecutionRole   string `json:"executionRole,omitempty"`
}

// EndpointConfig places a model on a fleet of instances
type EndpointConfig struct {
	Name          string `json:"name"`
	ModelName     string `json:"modelName"`
	VariantName   string `json:"variantName"`
	InstanceType  string `json:"instanceType"`
	InstanceCount int    `json:"instanceCount"`
}

// Endpoint is a named inference endpoint serving one config at a time
type Endpoint struct {
	Name          string `json:"name"`
	ConfigName    string `json:"configName"`
	Status        string `json:"status,omitempty"`
	InstanceType  string `json:"instanceType,omitempty"`
	InstanceCount int    `json:"instanceCount,omitempty"`
}
