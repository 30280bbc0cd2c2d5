package ollama

const classificationPrompt = `You are validating a photo for a receipt tracking system.
Look at the attached image and answer with a single JSON object, no prose:
{
  "is_receipt": <true if the image shows a purchase receipt or invoice>,
  "is_legible": <true if the text is sharp enough to read>,
  "is_extractable": <true if merchant, line items and totals can be read>,
  "reason": "<one short sentence explaining any false answer>"
}
Answer every field. Be strict: a menu, a screenshot of a banking app, or a
random photo is not a receipt.`

const extractionPrompt = `You are extracting purchase data from a receipt photo.
Read the attached receipt image and answer with a single JSON object, no prose:
{
  "merchant": "<store name as printed>",
  "location": "<city or address if printed, else empty string>",
  "items": [
    {"name": "<line item>", "quantity": <number>, "unit_price": <number>, "line_total": <number>}
  ],
  "subtotal": <number>,
  "tax": <number>,
  "tip": <number>,
  "total": <number>,
  "purchased_at": "<date and time as printed, ISO 8601 if possible>"
}
Use 0 for amounts that are not printed. Keep item names short.`
