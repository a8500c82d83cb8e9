package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"signalhub/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockProvider serves completions through AWS Bedrock's Converse API.
type BedrockProvider struct {
	runtime *bedrockruntime.Client
	control *bedrock.Client
	models  map[domain.ModelTier]string
}

// NewBedrockProvider creates a provider in the given region. Empty access
// keys fall back to the default AWS credential chain.
func NewBedrockProvider(ctx context.Context, region, accessKey, secretKey string, models map[domain.ModelTier]string) (*BedrockProvider, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &BedrockProvider{
		runtime: bedrockruntime.NewFromConfig(awsCfg),
		control: bedrock.NewFromConfig(awsCfg),
		models:  models,
	}, nil
}

func (p *BedrockProvider) modelName(tier domain.ModelTier) (string, error) {
	name, ok := p.models[tier]
	if !ok || name == "" {
		return "", fmt.Errorf("%w: no model configured for tier %s", domain.ErrUnknownModel, tier)
	}
	return name, nil
}

// Available lists foundation models and checks the tier's model is present.
func (p *BedrockProvider) Available(ctx context.Context, model domain.ModelTier) bool {
	name, err := p.modelName(model)
	if err != nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := p.control.ListFoundationModels(probeCtx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return false
	}
	for _, summary := range out.ModelSummaries {
		if id := aws.ToString(summary.ModelId); id == name || strings.HasPrefix(name, id) {
			return true
		}
	}
	return false
}

func (p *BedrockProvider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error) {
	name, err := p.modelName(req.Model)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(name),
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: req.Prompt},
				},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		},
	}

	output, err := p.runtime.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: bedrock Converse: %v", domain.ErrTransient, err)
	}

	var content strings.Builder
	if msg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if text, ok := block.(*types.ContentBlockMemberText); ok {
				content.WriteString(text.Value)
			}
		}
	}

	completion := &domain.Completion{
		Content: content.String(),
		Model:   req.Model,
	}
	if output.Usage != nil {
		completion.InputTokens = int(aws.ToInt32(output.Usage.InputTokens))
		completion.OutputTokens = int(aws.ToInt32(output.Usage.OutputTokens))
	}
	return completion, nil
}
