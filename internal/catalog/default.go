package catalog

import "versecast/internal/message"

// defaultEntries is the built-in devotional set used when no catalog file
// is configured.
var defaultEntries = []message.Draft{
	{Title: "Blessing", Body: "Remember to pray and bring your plans to God — He delights in hearing you."},
	{Title: "Prayer Pause", Body: "A short verse can shape your whole outlook. Open the Scriptures and receive."},
	{Title: "Reflection in the Lord", Body: "Gratitude opens the door to joy. Take a moment to thank God."},
	{Title: "God’s Word for You", Body: "You are not alone. The Lord walks beside you in every season."},
	{Title: "Strength from Scripture", Body: "Speak a prayer of peace. Even a quiet cry is heard in heaven."},
	{Title: "Faith Over Fear", Body: "Feed your faith and your fears will lose strength."},
	{Title: "Encouragement", Body: "Pause and read Psalm 23. Let the Shepherd calm your heart."},
	{Title: "Christ-Focused Mind", Body: "Breathe and rest — God is in control of every detail."},
	{Title: "Walk in His Light", Body: "Your prayer can move mountains because God is able."},
	{Title: "Grace Reminder", Body: "Reflect on God’s promises and let hope rise again."},
	{Title: "Time to Pray", Body: "Show kindness; it is a simple way to reflect Christ."},
	{Title: "Bible Moment", Body: "Cast your worries on Him, because He truly cares for you."},
	{Title: "Hope in Christ", Body: "When you feel weak, remember His strength is made perfect in weakness."},
	{Title: "Thankful Heart", Body: "Let your actions show the love of Christ to the people around you."},
	{Title: "Prepare Your Heart", Body: "Pray for someone who needs comfort and encouragement."},
	{Title: "Quiet Heart, Strong Faith", Body: "God’s plan is greater than any frustration you face."},
	{Title: "Inspiration", Body: "A tender heart is good soil for the word of God."},
	{Title: "Renewed Mind", Body: "Choose peace instead of anger; it is the fruit of the Spirit."},
	{Title: "Peace Within", Body: "The Bible is not just a book — it is God’s loving message to you."},
	{Title: "Stand Firm in Faith", Body: "Set aside a few quiet minutes and listen for His voice."},
	{Title: "God’s Love Never Fails", Body: "Meditate on Proverbs 3:5-6 and trust the Lord fully."},
	{Title: "Be Still and Know", Body: "Give thanks for a few small blessings God has provided."},
	{Title: "Let Your Light Shine", Body: "Ask God to renew your mind with truth and clarity."},
	{Title: "Rejoice in the Lord", Body: "Let joy, not anxiety, lead your heart."},
	{Title: "Scripture Spark", Body: "You are God’s workmanship, created with purpose."},
	{Title: "Grace for You", Body: "Hold on to one verse and think about it throughout your activities."},
	{Title: "Faith Fuel", Body: "Forgive quickly and keep a life of prayer."},
	{Title: "Hope Restored", Body: "Bless someone without expecting anything in return."},
	{Title: "Journey with Jesus", Body: "Praise shifts your focus from the problem to the Provider."},
	{Title: "Spirit Recharge", Body: "Turn worry into worship; God meets you there."},
	{Title: "Bible Study Reminder", Body: "God loves to hear your voice — speak to Him now."},
	{Title: "Blessings Overflow", Body: "Pray for wisdom before you make decisions."},
	{Title: "Pray Without Ceasing", Body: "The same God who parted seas can open the path before you."},
	{Title: "Faith Check-In", Body: "Do not rush; slow down and thank God for life."},
	{Title: "Lift Your Eyes", Body: "Remember His past faithfulness to trust Him for what is ahead."},
	{Title: "Strength in Prayer", Body: "Hold on to the promise of Jesus: He is always with you."},
	{Title: "Scripture Focus", Body: "Fill your soul with Scripture before you fill your schedule."},
	{Title: "God’s Promise", Body: "Speak faith, not fear — your words carry life."},
	{Title: "Stay Rooted in Christ", Body: "Let your home be filled with praise and worship."},
	{Title: "Praise Break", Body: "God’s timing is perfect, even when it feels delayed."},
	{Title: "Heart of Gratitude", Body: "Go to the Psalms when your heart is low; they lift the soul."},
	{Title: "Wisdom Whisper", Body: "Pray for your family by name; they need your intercession."},
	{Title: "Faith Boost", Body: "Smile; your joy can remind someone of God’s hope."},
	{Title: "Rest in Christ", Body: "A few quiet moments with God can realign your whole heart."},
	{Title: "Joyful Spirit", Body: "Keep believing — God often works in gentle, hidden ways."},
	{Title: "God Is With You", Body: "Choose gratitude over grumbling."},
	{Title: "Hope in the Lord", Body: "Whisper a prayer for peace over the nations."},
	{Title: "Spirit of Thankfulness", Body: "Read a verse of encouragement and let it settle in you."},
	{Title: "Keep Trusting", Body: "Ask the Holy Spirit to guide your steps and your words."},
	{Title: "New Mercies", Body: "Thank God for His mercies that never run out."},
}

// Default returns a copy of the built-in devotional set.
func Default() []message.Draft {
	out := make([]message.Draft, len(defaultEntries))
	copy(out, defaultEntries)
	return out
}
