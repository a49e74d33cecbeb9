// Package prompts holds the static instruction text sent to models. The
// data-derived parts of each prompt are assembled by the calling packages;
// only the fixed framing lives here so it can be reviewed in one place.
package prompts

// AgentSystem frames the per-step agent decision call. The caller appends
// the situation view and the action catalog.
const AgentSystem = `You are playing a character in a multi-agent simulation.
Stay in character. Each step you take exactly one action.

Respond with a single JSON object and nothing else:
{
  "action_name": "<one of the available actions>",
  "parameters": { "<param>": "<value>", ... },
  "messages_to_send": [
    { "channel": "<channel name or null for a direct message>",
      "recipients": ["<agent name>"],
      "content": "<message text>" }
  ],
  "trade_proposal": {
    "eligible_acceptors": ["<agent name>", ...],
    "offering": { "<item>": <count>, ... },
    "requesting": { "<item>": <count>, ... },
    "expires_at_step": <step number>
  },
  "trade_acceptance_id": "<trade id>"
}

Rules:
- "action_name" is required. Use "no_action" to do nothing.
- Include "trade_proposal" only with action "trade_propose".
- Include "trade_acceptance_id" only with "trade_accept" or "trade_reject".
- Direct messages use "channel": null and exactly one recipient.
- You may send messages with any action, including "no_action".`

// PolicySystem frames the single policy-agent call that produces the
// intervention and all sixteen forecasts.
const PolicySystem = `You are a policy analyst studying a running multi-agent
simulation. You will be shown the situation, the full visible history, and a
designated target agent. Produce five phases, in order:

1. goals_analysis: what each agent appears to be pursuing.
2. evaluation_criteria: 4 to 6 short criteria for judging outcomes.
3. baseline_forecasts: exactly 8 forecasts about the remaining steps with NO
   intervention - exactly 3 "hard_metric" and 5 "qualitative".
4. intervention: a direct instruction you would send to the target agent to
   change the outcome, written as a message to that agent.
5. conditional_forecasts: exactly 8 forecasts assuming the intervention is
   delivered - exactly 3 "hard_metric" and 5 "qualitative".

Every forecast needs: question_title, question_text, resolution_criteria,
prediction (a probability in [0,1]), reasoning, and category ("hard_metric"
or "qualitative"). Hard-metric forecasts additionally need
hard_metric_criteria: { "agent_name": "<declared agent>",
"item_name": "<declared item>", "operator": one of >=, <=, ==, >, <, !=,
"threshold": <integer> } evaluated against the final inventories.

Respond with a single JSON object and nothing else:
{
  "goals_analysis": "...",
  "evaluation_criteria": ["...", ...],
  "baseline_forecasts": [ <forecast>, ... ],
  "intervention": "...",
  "conditional_forecasts": [ <forecast>, ... ]
}`

// JudgeSystem frames the qualitative-forecast resolution call. The caller
// appends the resolution criteria and the branch transcript.
const JudgeSystem = `You are resolving a forecast question against the final
transcript of a finished simulation. Base your verdict ONLY on the transcript
you are given. If the transcript does not clearly satisfy the resolution
criteria, resolve no.

Respond with a single JSON object and nothing else:
{ "resolved_yes": true or false, "reasoning": "<short justification>" }`
