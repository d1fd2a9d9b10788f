package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voicegate/gateway/internal/session"
)

var weekdayNamesZH = [...]string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"}

// currentTimeContext renders the current time/date/lunar-date block
// the `result_for_context` tool prepends to the user's question,
// mirroring xiaozhi-server's intent_service.py::_handle_context_result
// construction of current_time/today_date/today_weekday/lunar_date.
func currentTimeContext(now time.Time) string {
	lunar := ToLunar(now.Year(), int(now.Month()), now.Day())
	return fmt.Sprintf(
		"当前时间：%s\n今天日期：%s (%s)\n今天农历：%s",
		now.Format("15:04:05"),
		now.Format("2006-01-02"),
		weekdayNamesZH[int(now.Weekday())],
		lunar.String(),
	)
}

// resultForContextArgs is the one argument `result_for_context` takes:
// the original user question to re-ask with temporal context attached.
type resultForContextArgs struct {
	Question string `json:"question"`
}

// ResultForContextTool builds the `result_for_context` special tool
// named by SUPPLEMENTED FEATURES item 3: it never answers directly —
// it returns Action=REQLLM with a context-enriched prompt, so the
// dialogue service re-invokes the LLM with current time/date/lunar
// date available (§4.11 item 5's glossary note).
func ResultForContextTool() Tool {
	return Tool{
		Name:        "result_for_context",
		Description: "回答需要当前时间、日期或农历信息的问题时调用，会自动补充上下文后重新请求模型。",
		Type:        TypeWait,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"question": {"type": "string", "description": "用户的原始问题"}
			},
			"required": ["question"]
		}`),
		Handler: func(pc *PluginContext, rawArgs string) (session.ActionResponse, error) {
			var args resultForContextArgs
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
					return session.ActionResponse{}, fmt.Errorf("unmarshal result_for_context args: %w", err)
				}
			}
			ctxBlock := currentTimeContext(time.Now())
			prompt := ctxBlock
			if args.Question != "" {
				prompt = fmt.Sprintf("%s\n\n请根据以上信息回答用户的问题：%s", ctxBlock, args.Question)
			}
			return session.ActionResponse{Action: "REQLLM", Result: prompt}, nil
		},
	}
}

// changeSysPromptArgs is the argument shape for the CHANGE_SYS_PROMPT
// tool.
type changeSysPromptArgs struct {
	Prompt string `json:"prompt"`
}

// ChangeSysPromptTool mutates the session's dialogue system message,
// per §4.12's CHANGE_SYS_PROMPT type.
func ChangeSysPromptTool() Tool {
	return Tool{
		Name:        "change_role",
		Description: "切换当前对话的系统提示词/角色设定。",
		Type:        TypeChangeSysPrompt,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string", "description": "新的系统提示词"}
			},
			"required": ["prompt"]
		}`),
		Handler: func(pc *PluginContext, rawArgs string) (session.ActionResponse, error) {
			var args changeSysPromptArgs
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil || args.Prompt == "" {
				return session.ActionResponse{Action: "ERROR", Response: "缺少新的系统提示词。"}, nil
			}
			if pc.Session != nil {
				pc.Session.Dialogue.SetSystemPrompt(args.Prompt)
			}
			return session.ActionResponse{Action: "RESPONSE", Response: "好的，已经切换角色设定。"}, nil
		},
	}
}

// iotCtlArgs is the argument shape for a generic IoT device command.
type iotCtlArgs struct {
	Device string `json:"device"`
	Action string `json:"action"`
}

// IoTCtlTool dispatches a device command through the event bus so any
// subscriber owning the physical/virtual device can act on it, per
// §4.12's IOT_CTL type requiring PluginContext access to the bus.
func IoTCtlTool() Tool {
	return Tool{
		Name:        "iot_control",
		Description: "控制已注册的智能家居设备，例如开关灯、调节音量。",
		Type:        TypeIoTCtl,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"device": {"type": "string"},
				"action": {"type": "string"}
			},
			"required": ["device", "action"]
		}`),
		Handler: func(pc *PluginContext, rawArgs string) (session.ActionResponse, error) {
			var args iotCtlArgs
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return session.ActionResponse{}, fmt.Errorf("unmarshal iot_control args: %w", err)
			}
			if pc.Bus != nil && pc.Session != nil {
				pc.Bus.Publish(context.Background(), session.NewIoTCommandEvent(pc.Session.SessionID, args.Device, args.Action))
			}
			return session.ActionResponse{
				Action:   "RESPONSE",
				Response: fmt.Sprintf("好的，已经执行「%s」的「%s」。", args.Device, args.Action),
			}, nil
		},
	}
}

// playMusicArgs is the argument shape for the play_music SYSTEM_CTL
// demonstration tool named by §8 scenario S4.
type playMusicArgs struct {
	Title string `json:"title"`
}

// PlayMusicTool demonstrates the S4 scenario: an immediate spoken
// acknowledgement (Action=RESPONSE) while the actual audio file
// enqueue happens through the container-resolved TTS orchestrator.
func PlayMusicTool(playFile func(sessionID, title string) error) Tool {
	return Tool{
		Name:        "play_music",
		Description: "播放指定歌曲。",
		Type:        TypeSystemCtl,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string", "description": "歌曲名称"}
			},
			"required": ["title"]
		}`),
		Handler: func(pc *PluginContext, rawArgs string) (session.ActionResponse, error) {
			var args playMusicArgs
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil || args.Title == "" {
				return session.ActionResponse{Action: "ERROR", Response: "没听清楚要播放哪首歌。"}, nil
			}
			if playFile != nil && pc.Session != nil {
				if err := playFile(pc.Session.SessionID, args.Title); err != nil {
					return session.ActionResponse{}, fmt.Errorf("enqueue music file: %w", err)
				}
			}
			return session.ActionResponse{
				Action:   "RESPONSE",
				Response: fmt.Sprintf("正在为您播放，《%s》", args.Title),
			}, nil
		},
	}
}

// RegisterBuiltins adds every built-in tool to registry. playFile may
// be nil in contexts (e.g. tests) that don't need PlayMusicTool to
// reach a real TTS orchestrator.
func RegisterBuiltins(registry *Registry, playFile func(sessionID, title string) error) {
	registry.Register(ResultForContextTool())
	registry.Register(ChangeSysPromptTool())
	registry.Register(IoTCtlTool())
	registry.Register(PlayMusicTool(playFile))
}
