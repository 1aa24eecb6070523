package serialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testGroup struct {
	GroupDescription string            `json:"GroupDescription,omitempty"`
	VpcId            any               `json:"VpcId,omitempty"`
	Ingress          []testRule        `json:"SecurityGroupIngress,omitempty"`
	Tags             []testTag         `json:"Tags,omitempty"`
	Metadata         map[string]string `json:"Metadata,omitempty"`
	Limits           *testLimits       `json:"Limits,omitempty"`
	Strict           *bool             `json:"Strict,omitempty"`
}

type testRule struct {
	IpProtocol string `json:"IpProtocol"`
	FromPort   int    `json:"FromPort,omitempty"`
	ToPort     int    `json:"ToPort,omitempty"`
	Source     any    `json:"SourceSecurityGroupId,omitempty"`
}

type testTag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

type testLimits struct {
	MaxRules int `json:"MaxRules"`
}

// testRef stands in for a deferred reference.
type testRef struct {
	Target string
}

func (testRef) Verbatim() {}

func TestResource_SimpleStruct(t *testing.T) {
	props, err := Resource(testGroup{GroupDescription: "web"})
	require.NoError(t, err)

	assert.Equal(t, "web", props["GroupDescription"])
	assert.NotContains(t, props, "SecurityGroupIngress")
	assert.NotContains(t, props, "Limits")
}

func TestResource_WithNestedStruct(t *testing.T) {
	props, err := Resource(testGroup{Limits: &testLimits{MaxRules: 60}})
	require.NoError(t, err)

	limits := props["Limits"].(map[string]any)
	assert.Equal(t, int64(60), limits["MaxRules"])
}

func TestResource_WithSlice(t *testing.T) {
	props, err := Resource(testGroup{
		Ingress: []testRule{
			{IpProtocol: "tcp", FromPort: 80, ToPort: 80},
			{IpProtocol: "tcp", FromPort: 443, ToPort: 443},
		},
		Tags: []testTag{{Key: "Name", Value: "web"}},
	})
	require.NoError(t, err)

	rules := props["SecurityGroupIngress"].([]any)
	require.Len(t, rules, 2)
	rule0 := rules[0].(map[string]any)
	assert.Equal(t, "tcp", rule0["IpProtocol"])
	assert.Equal(t, int64(80), rule0["FromPort"])

	tags := props["Tags"].([]any)
	assert.Equal(t, map[string]any{"Key": "Name", "Value": "web"}, tags[0])
}

func TestResource_WithMap(t *testing.T) {
	props, err := Resource(testGroup{Metadata: map[string]string{"tier": "edge"}})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"tier": "edge"}, props["Metadata"])
}

func TestResource_KeepsVerbatimValues(t *testing.T) {
	props, err := Resource(testGroup{
		VpcId:   testRef{Target: "VPC"},
		Ingress: []testRule{{IpProtocol: "tcp", FromPort: 80, ToPort: 80, Source: testRef{Target: "EdgeSecurityGroup"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, testRef{Target: "VPC"}, props["VpcId"])
	rule := props["SecurityGroupIngress"].([]any)[0].(map[string]any)
	assert.Equal(t, testRef{Target: "EdgeSecurityGroup"}, rule["SourceSecurityGroupId"])
}

func TestResource_OmitsZeroValues(t *testing.T) {
	props, err := Resource(testGroup{})
	require.NoError(t, err)

	assert.Empty(t, props)
}

func TestResource_PointerKeepsExplicitFalse(t *testing.T) {
	strict := false
	props, err := Resource(&testGroup{Strict: &strict})
	require.NoError(t, err)

	assert.Equal(t, false, props["Strict"])
}

func TestMustResource(t *testing.T) {
	assert.Equal(t, map[string]any{"GroupDescription": "db"}, MustResource(testGroup{GroupDescription: "db"}))
}
