package llm

// ContentPolicyPrompt instructs the model to score marketplace listing text.
const ContentPolicyPrompt = `You review listing text for an artisan marketplace.
Decide how likely the text violates the content policy: weapons, drugs, hate or harassment,
sexual content, counterfeit goods, protected wildlife or human remains, and scams.
Respond with JSON only, in the form:
{"confidence": <number 0..1>, "categories": [<violated policy areas>], "reason": "<one sentence>"}
Use a confidence near 0 for ordinary handmade goods.`
