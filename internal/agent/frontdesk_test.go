package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFrontDesk_RoutesByClassification(t *testing.T) {
	fake := newScriptedModel(
		reply("Let me transfer you to our marketing team."),
		reply("```json\n{\"nextRepresentative\": \"MARKETING\"}\n```"),
	)
	fd := NewFrontDesk(fake, nil, zap.NewNop())

	st := NewConversationState("s1")
	st.Messages = Transcript{UserMessage{Content: "any discounts?"}}

	out, err := fd.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, LabelMarketing, out.NextRepresentative)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, AgentMessage{Author: AgentFrontDesk, Content: "Let me transfer you to our marketing team."}, out.Messages[1])

	calls := fake.calls()
	require.Len(t, calls, 2)

	// 回复：system + 历史
	assert.Equal(t, schema.System, calls[0].input[0].Role)
	assert.Equal(t, FrontDeskPrompt, calls[0].input[0].Content)
	assert.Len(t, calls[0].input, 2)

	// 分类：system + 历史 + 刚生成的回复 + 分类指令
	in := calls[1].input
	require.Len(t, in, 4)
	assert.Equal(t, ClassificationSystemPrompt, in[0].Content)
	assert.Equal(t, "any discounts?", in[1].Content)
	assert.Equal(t, "Let me transfer you to our marketing team.", in[2].Content)
	assert.Equal(t, schema.User, in[3].Role)
	assert.Equal(t, ClassificationHumanPrompt, in[3].Content)
}

func TestFrontDesk_MalformedClassificationFallsBackToRespond(t *testing.T) {
	for _, raw := range []string{"MARKETING", "not json", `{"nextRepresentative": "SALES"}`, `{}`} {
		fake := newScriptedModel(reply("Hello!"), reply(raw))
		out, err := NewFrontDesk(fake, nil, nil).Run(context.Background(), ConversationState{Messages: Transcript{UserMessage{Content: "hi"}}})
		require.NoError(t, err, raw)
		assert.Equal(t, LabelRespond, out.NextRepresentative, raw)
	}
}

func TestFrontDesk_ModelError(t *testing.T) {
	fake := newScriptedModel()
	fake.script.err = errors.New("upstream 503")

	st := ConversationState{Messages: Transcript{UserMessage{Content: "hi"}}}
	out, err := NewFrontDesk(fake, nil, nil).Run(context.Background(), st)
	assert.ErrorIs(t, err, ErrModelInvoke)
	assert.Len(t, out.Messages, 1)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(" {\"a\":1} "))
}

func TestFrontDesk_ClassifiesWithConstrainedModel(t *testing.T) {
	chat := newScriptedModel(reply("Our learning team can help with that."))
	classifier := newScriptedModel(classify("LEARNING"))
	fd := NewFrontDesk(chat, classifier, zap.NewNop())

	st := NewConversationState("s1")
	st.Messages = Transcript{UserMessage{Content: "how long is the CFA course?"}}

	out, err := fd.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, LabelLearning, out.NextRepresentative)

	// 回复走对话模型，分类只走分类模型
	require.Len(t, chat.calls(), 1)
	assert.Equal(t, FrontDeskPrompt, chat.calls()[0].input[0].Content)
	require.Len(t, classifier.calls(), 1)
	in := classifier.calls()[0].input
	assert.Equal(t, ClassificationSystemPrompt, in[0].Content)
	assert.Equal(t, ClassificationHumanPrompt, in[len(in)-1].Content)
}

func TestFrontDesk_ClassifierErrorIsModelInvoke(t *testing.T) {
	chat := newScriptedModel(reply("Hello!"))
	classifier := newScriptedModel()
	classifier.script.err = errors.New("response_format not supported")

	st := ConversationState{Messages: Transcript{UserMessage{Content: "hi"}}}
	out, err := NewFrontDesk(chat, classifier, nil).Run(context.Background(), st)
	assert.ErrorIs(t, err, ErrModelInvoke)
	assert.Len(t, out.Messages, 1)
}
